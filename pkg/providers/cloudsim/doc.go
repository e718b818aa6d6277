// Package cloudsim implements an in-process simulated cloud backing all six
// resource kinds. It exists so the engine, the command-line workflow, and the
// end-to-end tests can run a full static-site convergence without real cloud
// credentials.
//
// The simulation keeps the asynchronous shape of the real thing. A
// certificate is requested, not issued: it becomes ready once the simulated
// CA emits validation data, and only flips to issued after a DNS record set
// carrying that validation data has propagated. A distribution that attaches
// a certificate which was never validated fails to apply. Distribution
// deployment and DNS propagation each take a configurable number of polls.
//
// The Cloud also exposes Tamper and Remove so drift detection can be
// exercised against out-of-band changes.
package cloudsim
