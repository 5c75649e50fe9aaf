package static

import (
    "strings"

    "github.com/mrwill84/go-paxos/pkg/discovery"
)

// endpoints is a fixed seed list; the zero-value slice is a valid empty set.
type endpoints []string

func (e endpoints) Seeds() []string { return append([]string(nil), e...) }

// New returns a Discovery over a fixed endpoint list. Blank entries are
// dropped and surrounding whitespace is trimmed, so values can come straight
// from flags or config files.
func New(seeds ...string) discovery.Discovery {
    return endpoints(normalize(seeds))
}

// Parse splits a comma-separated endpoint list into its cleaned entries.
func Parse(csv string) []string {
    if csv == "" {
        return nil
    }
    return normalize(strings.Split(csv, ","))
}

func normalize(raw []string) []string {
    var out []string
    for _, v := range raw {
        if v = strings.TrimSpace(v); v != "" {
            out = append(out, v)
        }
    }
    return out
}
