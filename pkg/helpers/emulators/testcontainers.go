// Package emulators starts containerised stand-ins for the cloud services
// used by integration tests.
package emulators

// ImageContainer describes the image and ports of an emulator.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer adds the project a Google Cloud emulator serves.
type GCImageContainer struct {
	ImageContainer
	ProjectID       string
	SetEnvVariables bool
}

// EmulatorConnection is returned by emulators reached through a plain address.
type EmulatorConnection struct {
	EmulatorAddress string
}
