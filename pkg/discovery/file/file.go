package file

import (
    "bufio"
    "os"
    "strings"
    "sync"

    "github.com/mrwill84/go-paxos/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path to a file containing one endpoint per line; blank lines and
    // #-comments are skipped.
    Path string
    // Env overrides the file when the named variable is non-empty
    // (comma-separated endpoints).
    Env string
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    cache []string
    read  bool
}

// New returns a Discovery that reads the quorum endpoints from a file or an
// environment variable. The set is resolved once; the quorum is fixed.
func New(opts Options) discovery.Discovery { return &impl{opts: opts} }

func (i *impl) Seeds() []string {
    i.mu.Lock()
    defer i.mu.Unlock()
    if i.read {
        return append([]string(nil), i.cache...)
    }
    i.read = true
    if i.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(i.opts.Env)); v != "" {
            for _, p := range strings.Split(v, ",") {
                if p = strings.TrimSpace(p); p != "" {
                    i.cache = append(i.cache, p)
                }
            }
            return append([]string(nil), i.cache...)
        }
    }
    i.cache = loadFile(i.opts.Path)
    return append([]string(nil), i.cache...)
}

func loadFile(path string) []string {
    if path == "" {
        return nil
    }
    f, err := os.Open(path)
    if err != nil {
        return nil
    }
    defer f.Close()
    var seeds []string
    s := bufio.NewScanner(f)
    for s.Scan() {
        line := strings.TrimSpace(s.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        seeds = append(seeds, line)
    }
    return seeds
}
