package docker

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// DefaultRedisImage is the image started by StartRedis.
	DefaultRedisImage = "redis:7-alpine"

	// Port range for Redis containers (allows 100 concurrent instances)
	startPort = 6379
	endPort   = 6478

	redisContainerPort = "6379/tcp"
)

// RedisContainer is the Redis container of one instance.
type RedisContainer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Instance string `json:"instance"`
	Image    string `json:"image"`
	Port     int    `json:"port"`
	State    string `json:"state"`
}

// Running reports whether the container is up.
func (c *RedisContainer) Running() bool {
	return c.State == "running"
}

// Status is "running" or "stopped".
func (c *RedisContainer) Status() string {
	if c.Running() {
		return "running"
	}
	return "stopped"
}

// RedisOptions configures StartRedis.
type RedisOptions struct {
	Instance string
	Image    string
	// Port is the host port; 0 picks the next free one.
	Port int
}

// FindRedis returns the instance's Redis container, or nil when there is none.
func FindRedis(ctx context.Context, cli *client.Client, instanceName string) (*RedisContainer, error) {
	found, err := listRedis(ctx, cli, filters.Arg("label", fmt.Sprintf("%s=%s", LabelInstance, instanceName)))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// ListRedis returns every Redis container chalk created, on any instance.
func ListRedis(ctx context.Context, cli *client.Client) ([]*RedisContainer, error) {
	return listRedis(ctx, cli)
}

func listRedis(ctx context.Context, cli *client.Client, extra ...filters.KeyValuePair) ([]*RedisContainer, error) {
	args := filters.NewArgs(append([]filters.KeyValuePair{
		filters.Arg("label", fmt.Sprintf("%s=true", LabelProject)),
		filters.Arg("label", fmt.Sprintf("%s=%s", LabelComponent, ComponentRedis)),
	}, extra...)...)

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	out := make([]*RedisContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, fromSummary(c))
	}
	return out, nil
}

func fromSummary(c types.Container) *RedisContainer {
	rc := &RedisContainer{
		ID:       c.ID,
		Instance: c.Labels[LabelInstance],
		Image:    c.Image,
		State:    c.State,
	}
	if len(c.Names) > 0 {
		rc.Name = trimSlash(c.Names[0])
	}
	rc.Port, _ = RedisPort(c.Labels)
	return rc
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

// StartRedis starts the instance's Redis container, creating it on first use.
// A running container is returned as is.
func StartRedis(ctx context.Context, cli *client.Client, opts RedisOptions) (*RedisContainer, error) {
	existing, err := FindRedis(ctx, cli, opts.Instance)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Running() {
			if err := cli.ContainerStart(ctx, existing.ID, container.StartOptions{}); err != nil {
				return nil, fmt.Errorf("failed to start Redis container %s: %w", existing.Name, err)
			}
			existing.State = "running"
		}
		return existing, nil
	}

	port := opts.Port
	if port == 0 {
		if port, err = NextRedisPort(ctx, cli); err != nil {
			return nil, err
		}
	}
	image := opts.Image
	if image == "" {
		image = DefaultRedisImage
	}

	name := RedisContainerName(opts.Instance)
	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  image,
		Labels: RedisLabels(opts.Instance, port),
		ExposedPorts: nat.PortSet{
			redisContainerPort: struct{}{},
		},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			redisContainerPort: []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(port),
				},
			},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	return &RedisContainer{
		ID:       resp.ID,
		Name:     name,
		Instance: opts.Instance,
		Image:    image,
		Port:     port,
		State:    "running",
	}, nil
}

// StopRedis stops the instance's Redis container and, with remove, deletes
// it. It reports whether a container was found.
func StopRedis(ctx context.Context, cli *client.Client, instanceName string, remove bool) (bool, error) {
	c, err := FindRedis(ctx, cli, instanceName)
	if err != nil || c == nil {
		return false, err
	}

	if c.Running() {
		timeout := 10
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			return true, fmt.Errorf("failed to stop Redis container %s: %w", c.Name, err)
		}
	}
	if remove {
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return true, fmt.Errorf("failed to remove Redis container %s: %w", c.Name, err)
		}
	}
	return true, nil
}

// NextRedisPort finds the next available port for Redis, starting from 6379.
// Ports claimed by other chalk containers are skipped, as are ports that
// cannot be bound on the host.
func NextRedisPort(ctx context.Context, cli *client.Client) (int, error) {
	existing, err := ListRedis(ctx, cli)
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(existing))
	for _, c := range existing {
		if c.Port > 0 {
			used[c.Port] = true
		}
	}
	return pickPort(used, isPortBindable)
}

func pickPort(used map[int]bool, bindable func(int) bool) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if used[port] {
			continue
		}
		if bindable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", startPort, endPort)
}

// isPortBindable checks if a port can be bound on localhost.
func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
