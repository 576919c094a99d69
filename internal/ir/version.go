package ir

// EngineVersion is the replacer version reported by the CLI.
const EngineVersion = "0.1.0"
