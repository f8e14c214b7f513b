// Package core holds the process and filesystem primitives shared by the
// evaluation pipeline: the build-target model, external process execution,
// tree copying and fingerprinting, source enumeration and log harvesting.
package core
