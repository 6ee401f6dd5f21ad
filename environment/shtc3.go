package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
)

// SHTC3 I2C address (7-bit)
const SHTC3DefaultAddress = 0x70

// Commands (Big Endian on the wire)
const (
	shtc3CmdWake   uint16 = 0x3517
	shtc3CmdSleep  uint16 = 0xB098
	shtc3CmdReadID uint16 = 0xEFC8

	// Normal power, clock stretching disabled
	// Measure T first, then RH
	shtc3CmdMeasureTFirstNoCS uint16 = 0x7866
)

const (
	shtc3IDMask    = 0x083F
	shtc3IDPattern = 0x0807
)

var ErrCRCMismatch = errors.New("crc mismatch")

// SHTC3 represents Sensirion SHTC3 Temperature/Humidity sensor.
// The chip has no registers: every exchange is a 16-bit command optionally
// followed by a raw read. Typical usage:
//
//	s, err := NewSHTC3(ctx, bus)
//	t, h, err := s.GetTempAndHum(ctx)
type SHTC3 struct {
	*device.Device
	// wakeDelay and measureDelay are shortened in tests
	wakeDelay    time.Duration
	measureDelay time.Duration
	mx           sync.Mutex
}

var _ device.Identifier = &SHTC3{}

// NewSHTC3 registers the sensor with the bus. The defaults are address 0x70,
// 400 kHz and a one second transaction timeout.
func NewSHTC3(ctx context.Context, bus device.Bus, opts ...SensorOption) (*SHTC3, error) {
	config := applyOptions(SensorConfig{
		Address: SHTC3DefaultAddress,
		Clock:   sensornode.ClockRate400,
		Timeout: time.Second,
	}, opts)
	dev, err := device.New(ctx, bus, config.Address, config.Clock, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("shtc3: %w", err)
	}
	return &SHTC3{
		Device: dev,
		// typical wake time is below 240us, measurement ~12.1 ms in normal mode
		wakeDelay:    time.Millisecond,
		measureDelay: 15 * time.Millisecond,
	}, nil
}

// GetTemperature performs a single measurement and returns temperature in Celsius.
func (s *SHTC3) GetTemperature(ctx context.Context) (float32, error) {
	t, _, err := s.GetTempAndHum(ctx)
	return t, err
}

// GetHumidity performs a single measurement and returns relative humidity in %RH.
func (s *SHTC3) GetHumidity(ctx context.Context) (float32, error) {
	_, h, err := s.GetTempAndHum(ctx)
	return h, err
}

// GetTempAndHum performs a single measurement and returns temperature and humidity.
func (s *SHTC3) GetTempAndHum(ctx context.Context) (float32, float32, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.wake(ctx); err != nil {
		return 0, 0, err
	}
	if err := s.writeCmd(ctx, shtc3CmdMeasureTFirstNoCS); err != nil {
		return 0, 0, fmt.Errorf("shtc3: measure command failed: %w", err)
	}
	if err := sleep(ctx, s.measureDelay); err != nil {
		return 0, 0, err
	}
	// T[0:2], CRC, RH[3:5], CRC
	buf, err := s.ReadRaw(ctx, 6)
	if err != nil {
		return 0, 0, fmt.Errorf("shtc3: read failed: %w", err)
	}
	if shtCRC8(buf[0:2]) != buf[2] {
		return 0, 0, fmt.Errorf("shtc3: temperature %w", ErrCRCMismatch)
	}
	if shtCRC8(buf[3:5]) != buf[5] {
		return 0, 0, fmt.Errorf("shtc3: humidity %w", ErrCRCMismatch)
	}
	t, h := convertSHTC3(binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[3:5]))
	if err := s.writeCmd(ctx, shtc3CmdSleep); err != nil {
		return t, h, fmt.Errorf("shtc3: sleep failed: %w", err)
	}
	return t, h, nil
}

// IsConnected reads the ID word and matches it against the SHTC3 pattern.
func (s *SHTC3) IsConnected(ctx context.Context) (bool, error) {
	id, err := s.DeviceIdentifier(ctx)
	if err != nil {
		return false, err
	}
	return binary.BigEndian.Uint16(id)&shtc3IDMask == shtc3IDPattern, nil
}

// DeviceIdentifier returns the 16-bit ID word, CRC stripped.
func (s *SHTC3) DeviceIdentifier(ctx context.Context) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.wake(ctx); err != nil {
		return nil, err
	}
	if err := s.writeCmd(ctx, shtc3CmdReadID); err != nil {
		return nil, fmt.Errorf("shtc3: id command failed: %w", err)
	}
	buf, err := s.ReadRaw(ctx, 3)
	if err != nil {
		return nil, fmt.Errorf("shtc3: read failed: %w", err)
	}
	if shtCRC8(buf[0:2]) != buf[2] {
		return nil, fmt.Errorf("shtc3: id %w", ErrCRCMismatch)
	}
	return buf[0:2], nil
}

func (s *SHTC3) wake(ctx context.Context) error {
	if err := s.writeCmd(ctx, shtc3CmdWake); err != nil {
		return fmt.Errorf("shtc3: wake failed: %w", err)
	}
	return sleep(ctx, s.wakeDelay)
}

func (s *SHTC3) writeCmd(ctx context.Context, cmd uint16) error {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], cmd)
	return s.WriteBytes(ctx, out[:])
}

// T(C) = -45 + 175 * rawT / 65535
// RH(%) = 100 * rawRH / 65535
func convertSHTC3(rawT, rawRH uint16) (float32, float32) {
	return -45.0 + (175.0 * float32(rawT) / 65535.0), 100.0 * float32(rawRH) / 65535.0
}

// Sensirion CRC-8, polynomial 0x31, init 0xFF
func shtCRC8(data []byte) byte {
	var crc byte = 0xFF
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if (crc & 0x80) != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
