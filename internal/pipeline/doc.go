// Package pipeline is the composition root for one capture-to-disparity
// cycle: the camera array captures, the selected views are converted to
// intensity and rectified, the estimator matches them and every sink
// receives the result.
//
// Single-cycle capture failures are absorbed and logged. Conditions that
// remove capability for good (every device down, a view device missing)
// are returned to the caller.
package pipeline
