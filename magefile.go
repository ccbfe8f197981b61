//go:build mage
// +build mage

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	DOCKER_DEFAULT_CONTEXT       = "default"
	DOCKER_BUILDX_CACHE_DIR_NAME = ".dockercache"
	DOCKER_BUILDER_NAME          = "container"
	COMPOSE_FILE_DEFAULT         = "docker-compose.yaml"
	BINARY_PATH                  = "bin/signaling-server"
)

type DockerServiceBuild struct {
	Target string            `json:"target"`
	Args   map[string]string `json:"args"`
}

type DockerComposeService struct {
	Name  string
	Build *DockerServiceBuild `json:"build"`
}

type DockerComposeFile struct {
	Name     string                          `json:"name"`
	Services map[string]DockerComposeService `json:"services"`
}

func parseDockerComposeFile(src []byte) (DockerComposeFile, error) {
	var file DockerComposeFile
	if err := json.NewDecoder(bytes.NewReader(src)).Decode(&file); err != nil {
		return file, fmt.Errorf("unable decode compose config. Err: %w", err)
	}
	for name, service := range file.Services {
		service.Name = name
		file.Services[name] = service
	}
	return file, nil
}

func composeConfig(composeFilePath string) (DockerComposeFile, error) {
	out, err := sh.Output("docker", "compose", "-f", composeFilePath, "config", "--format", "json")
	if err != nil {
		return DockerComposeFile{}, fmt.Errorf("unable read compose config. Err: %w", err)
	}
	return parseDockerComposeFile([]byte(out))
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Integration runs the broker tests against the compose redis and nats.
func Integration() error {
	mg.Deps(Brokers)
	env := map[string]string{
		"TEST_REDIS_URL": "redis://localhost:6379",
		"TEST_NATS_URL":  "nats://localhost:4222",
	}
	return sh.RunWithV(env, "go", "test", "-race", "-run", "Broker", "./internal/backplane/...")
}

// Build compiles the signaling server into bin/.
func Build() error {
	return sh.RunWithV(map[string]string{"CGO_ENABLED": "0"},
		"go", "build", "-trimpath", "-o", BINARY_PATH, "./cmd/signaling-server",
	)
}

// Brokers starts only the redis and nats containers.
func Brokers() error {
	return sh.RunV("docker", "compose", "-f", COMPOSE_FILE_DEFAULT, "up", "-d", "redis", "nats")
}

// Up starts two signaling instances behind a shared redis backplane.
func Up() error {
	return sh.RunV("docker", "compose", "-f", COMPOSE_FILE_DEFAULT, "up", "-d", "--build")
}

func Down() error {
	return sh.RunV("docker", "compose", "-f", COMPOSE_FILE_DEFAULT, "down")
}

func buildxCreateBuilder(builderName, contextName string) error {
	if err := sh.Run("docker", "buildx", "inspect", builderName); err == nil {
		fmt.Println("[Docker] Use existing builder", builderName)
		return nil
	}
	return sh.RunV("docker", "buildx", "create", "--name", builderName, "--driver=docker-container", contextName)
}

func buildxBuildTarget(cache, label string, build DockerServiceBuild, load bool) error {
	command := []string{
		"buildx", "build",
		fmt.Sprintf("--builder=%s", DOCKER_BUILDER_NAME),
		fmt.Sprintf("--cache-from=type=local,src=%s", cache),
		"--label", label,
	}
	if build.Target != "" {
		command = append(command, "--target", build.Target)
	}
	if load {
		command = append(command, "--tag", fmt.Sprintf("%s:latest", label), "--load")
	} else {
		command = append(command, fmt.Sprintf("--cache-to=type=local,dest=%s", cache))
	}
	for argName, argVal := range build.Args {
		command = append(command, "--build-arg", fmt.Sprintf("%s=%s", argName, argVal))
	}
	command = append(command, ".")

	fmt.Printf("[Docker] Build image %s\n", label)
	return sh.RunV("docker", command...)
}

func buildKit(contextName, composeFilePath string, load bool) error {
	file, err := composeConfig(composeFilePath)
	if err != nil {
		return err
	}

	if err := sh.Run("docker", "context", "use", contextName); err != nil {
		return fmt.Errorf("unable select docker context %s. Err: %w", contextName, err)
	}
	defer sh.Run("docker", "context", "use", DOCKER_DEFAULT_CONTEXT)

	if err := buildxCreateBuilder(DOCKER_BUILDER_NAME, DOCKER_DEFAULT_CONTEXT); err != nil {
		return fmt.Errorf("unable create buildx builder. Err: %w", err)
	}

	dirPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("unable get pwd of project root. Err: %w", err)
	}
	cache := path.Join(dirPath, DOCKER_BUILDX_CACHE_DIR_NAME)

	for _, service := range file.Services {
		if service.Build == nil {
			continue
		}
		label := fmt.Sprintf("%s-%s", file.Name, service.Name)
		if err := buildxBuildTarget(cache, label, *service.Build, load); err != nil {
			fmt.Printf("[Docker] Build %s | Error: %s\n", label, err)
		}
	}
	return nil
}

// Buildx warms the local buildx cache for every service with a build section.
func Buildx(composeFilePath string) error {
	return buildKit(DOCKER_DEFAULT_CONTEXT, composeFilePath, false)
}

// BuildxDeploy builds and loads images into the given docker context.
func BuildxDeploy(contextName, composeFilePath string) error {
	return buildKit(contextName, composeFilePath, true)
}
