// Package detector provides the toy particle-detector simulator that AVO tunes.
//
// # Reading Guide
//
//   - image.go: Image and Shape, the fixed-size grids the simulator produces
//   - geometry.go: spherical tracker geometry and (η, φ) binning
//   - options.go: free-form generator option strings ("Key:sub = value")
//   - generator.go: event generation (soft tracks, back-to-back jets)
//   - tracker.go: Detector, which turns one offset θ into a batch of images
//
// # Model
//
// Every event is a set of straight tracks leaving an interaction point
// displaced along the beam axis by the offset θ. The tracker is a set of
// concentric spherical layers centred on the nominal origin. Each track/layer
// intersection is binned by the pseudorapidity and azimuth seen from the
// origin, so a non-zero offset distorts the occupancy pattern. The image is
// the per-bin deposited energy (or a binary occupancy when Detector:binary is
// on).
//
// Detector satisfies pipeline.Simulator and is safe for concurrent use: all
// randomness comes from the *rand.Rand handed to Simulate.
package detector
