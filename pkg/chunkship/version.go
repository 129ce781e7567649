package chunkship

// Version is reported in the User-Agent of the default transport.
const Version = "1.0.0"
