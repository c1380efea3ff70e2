package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testFirestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testFirestoreEmulatorPort  = "8080"
)

func GetDefaultFirestoreConfig(projectID string) GCImageContainer {
	return GCImageContainer{
		ImageContainer: ImageContainer{
			EmulatorImage:    testFirestoreEmulatorImage,
			EmulatorGRPCPort: testFirestoreEmulatorPort,
		},
		ProjectID:       projectID,
		SetEnvVariables: true,
	}
}

// SetupFirestoreEmulator starts the Firestore emulator and returns options for clients.
func SetupFirestoreEmulator(t *testing.T, ctx context.Context, cfg GCImageContainer) []option.ClientOption {
	t.Helper()
	port := fmt.Sprintf("%s/tcp", cfg.EmulatorGRPCPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{port},
		Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", fmt.Sprintf("--project=%s", cfg.ProjectID), fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorGRPCPort)},
		WaitingFor:   wait.ForLog("Dev App Server is now running"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate Firestore emulator container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	emulatorHost := fmt.Sprintf("%s:%s", host, mapped.Port())

	t.Logf("Firestore emulator container started, listening on: %s", emulatorHost)
	if cfg.SetEnvVariables {
		t.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}
	return []option.ClientOption{
		option.WithEndpoint(emulatorHost),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}
