package command

import (
    "encoding/json"
    "fmt"
)

// codecVersion tags every serialized command so peers can verify
// self-compatibility across restarts.
const codecVersion = 1

// Marshal serializes a command, stamping the codec version.
func Marshal(cmd Command) ([]byte, error) {
    if !known(cmd.Type) {
        return nil, fmt.Errorf("command: marshal of unknown type %q", cmd.Type)
    }
    cmd.Version = codecVersion
    return json.Marshal(cmd)
}

// Unmarshal parses a serialized command and validates version and type.
func Unmarshal(data []byte) (Command, error) {
    var cmd Command
    if err := json.Unmarshal(data, &cmd); err != nil {
        return Command{}, fmt.Errorf("command: %w", err)
    }
    if cmd.Version != codecVersion {
        return Command{}, fmt.Errorf("command: unsupported codec version %d", cmd.Version)
    }
    if !known(cmd.Type) {
        return Command{}, fmt.Errorf("command: unknown type %q", cmd.Type)
    }
    return cmd, nil
}
