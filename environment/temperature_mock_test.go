package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMockTemperatureSensor_DynamicBehavior(t *testing.T) {
	current := float32(20.0)
	sensor := NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return current, nil })
	ctx := context.Background()

	temp, err := sensor.GetTemperature(ctx)
	assert.NoError(t, err)
	assert.Equal(t, float32(20.0), temp)

	current = 25.5
	temp, err = sensor.GetTemperature(ctx)
	assert.NoError(t, err)
	assert.Equal(t, float32(25.5), temp)
}

func TestMockTemperatureSensor_Error(t *testing.T) {
	failure := errors.New("sensor offline")
	sensor := NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return 0, failure })
	_, err := sensor.GetTemperature(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestStaticTemperatureSensor(t *testing.T) {
	temp, err := NewStaticTemperatureSensor(21.5).GetTemperature(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, float32(21.5), temp)
}
