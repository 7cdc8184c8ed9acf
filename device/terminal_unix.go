//go:build !windows

package device

// supportsSyncOutput gates the DEC 2026 synchronized update around each frame.
const supportsSyncOutput = true
