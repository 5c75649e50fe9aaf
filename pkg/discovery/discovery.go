package discovery

// Discovery abstracts how the fixed quorum endpoints are provided at boot.
// The quorum itself never resizes; discovery only resolves the configured
// set before the node starts.
type Discovery interface {
    Seeds() []string
}
