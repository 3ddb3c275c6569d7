package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLabels(t *testing.T) {
	labels := BuildLabels("prod", ComponentRedis)

	assert.Equal(t, "true", labels[LabelProject])
	assert.Equal(t, "prod", labels[LabelInstance])
	assert.Equal(t, ComponentRedis, labels[LabelComponent])
	assert.Len(t, labels, 3)
}

func TestBuildLabels_NoComponent(t *testing.T) {
	labels := BuildLabels("dev", "")

	assert.Equal(t, "dev", labels[LabelInstance])
	assert.NotContains(t, labels, LabelComponent)
	assert.Len(t, labels, 2)
}

func TestRedisPort(t *testing.T) {
	port, ok := RedisPort(RedisLabels("dev", 6381))
	assert.True(t, ok)
	assert.Equal(t, 6381, port)

	tests := map[string]map[string]string{
		"missing":  {},
		"garbage":  {LabelRedisPort: "abc"},
		"negative": {LabelRedisPort: "-1"},
	}
	for name, labels := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok := RedisPort(labels)
			assert.False(t, ok)
		})
	}
}

func TestRedisContainerName(t *testing.T) {
	assert.Equal(t, "chalk-redis-my-project", RedisContainerName("my-project"))
}

func TestPickPort(t *testing.T) {
	bindable := func(free ...int) func(int) bool {
		return func(p int) bool {
			for _, f := range free {
				if f == p {
					return true
				}
			}
			return false
		}
	}

	t.Run("first free port", func(t *testing.T) {
		port, err := pickPort(map[int]bool{}, bindable(6379, 6380))
		assert.NoError(t, err)
		assert.Equal(t, 6379, port)
	})

	t.Run("skips ports claimed by containers", func(t *testing.T) {
		port, err := pickPort(map[int]bool{6379: true}, bindable(6379, 6380))
		assert.NoError(t, err)
		assert.Equal(t, 6380, port)
	})

	t.Run("skips unbindable ports", func(t *testing.T) {
		port, err := pickPort(map[int]bool{}, bindable(6400))
		assert.NoError(t, err)
		assert.Equal(t, 6400, port)
	})

	t.Run("exhausted", func(t *testing.T) {
		_, err := pickPort(map[int]bool{}, bindable())
		assert.ErrorContains(t, err, "exhausted")
	})
}

func TestContainerState(t *testing.T) {
	assert.Equal(t, "running", (&RedisContainer{State: "running"}).Status())
	assert.Equal(t, "stopped", (&RedisContainer{State: "exited"}).Status())
	assert.True(t, (&RedisContainer{State: "running"}).Running())
}
