package environment

import (
	"context"
)

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
type TemperatureBehaviorFunc func(ctx context.Context) (float32, error)

// MockTemperatureSensor is a mock implementation of a temperature-only sensor that uses a behavior function
// to produce results without requiring any hardware.
// This can be used to stand in for an MCP9808 or a TC74 when no bus is available.
type MockTemperatureSensor struct {
	behavior TemperatureBehaviorFunc
}

// NewMockTemperatureSensor creates a new mock temperature sensor with the given behavior function.
// The behavior function is called whenever GetTemperature is invoked.
//
// Example usage:
//
//	sensor := NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return 25.0, nil })
func NewMockTemperatureSensor(behavior TemperatureBehaviorFunc) *MockTemperatureSensor {
	return &MockTemperatureSensor{behavior: behavior}
}

// NewStaticTemperatureSensor returns a mock that always reports temp.
func NewStaticTemperatureSensor(temp float32) *MockTemperatureSensor {
	return NewMockTemperatureSensor(func(ctx context.Context) (float32, error) { return temp, nil })
}

// GetTemperature returns the temperature by calling the behavior function.
func (m *MockTemperatureSensor) GetTemperature(ctx context.Context) (float32, error) {
	return m.behavior(ctx)
}
