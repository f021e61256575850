// Package avo implements Adversarial Variational Optimization of a detector
// offset.
//
// # Reading Guide
//
// Start with these files:
//   - variational.go: the Gaussian over θ and its REINFORCE update
//   - discriminator.go: the classifier contract and labeled batches
//   - orchestrator.go: the PRETRAIN → ITERATE → DONE training loop
//
// # Architecture
//
// The orchestrator owns every piece of mutable state. It is handed a Session
// (run id, partitioned RNG, simulator pool) and a Discriminator, builds the
// Variational distribution from Config, and alternates:
//
//  1. fit the discriminator on reference images (label 1) against images
//     simulated from the current distribution (label 0);
//  2. score a fresh simulated batch and use the scores as rewards in the
//     score-function update of (μ, σ').
//
// Rewards are plain []float64 copies, so no gradient ever reaches the
// discriminator from the distribution update. Gradients of the variational
// loss come from a gorgonia graph built and discarded inside every Update.
//
// The concrete convolutional discriminator lives in avo/convnet.
package avo
