package docker

import (
	"fmt"
	"strconv"
)

// Label keys set on every container chalk creates.
const (
	LabelProject   = "chalk.project"
	LabelInstance  = "chalk.instance"
	LabelComponent = "chalk.component"
	LabelRedisPort = "chalk.redis.port"
)

// ComponentRedis is the LabelComponent value of Redis containers.
const ComponentRedis = "redis"

// BuildLabels creates the standard label set for an instance's container.
// component may be empty.
func BuildLabels(instanceName, component string) map[string]string {
	labels := map[string]string{
		LabelProject:  "true",
		LabelInstance: instanceName,
	}
	if component != "" {
		labels[LabelComponent] = component
	}
	return labels
}

// RedisLabels is BuildLabels for a Redis container published on port.
func RedisLabels(instanceName string, port int) map[string]string {
	labels := BuildLabels(instanceName, ComponentRedis)
	labels[LabelRedisPort] = strconv.Itoa(port)
	return labels
}

// RedisPort reads the published port back from a container's labels.
func RedisPort(labels map[string]string) (int, bool) {
	port, err := strconv.Atoi(labels[LabelRedisPort])
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}

// RedisContainerName returns the Redis container name for an instance.
func RedisContainerName(instanceName string) string {
	return fmt.Sprintf("chalk-redis-%s", instanceName)
}
