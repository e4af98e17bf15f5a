// Package icm20948 reads a locally wired ICM-20948 as a motion source. The
// full-scale ranges are ±2 g and ±250 deg/s, which give the same counts per
// unit as the sensor module's payloads, so register values are forwarded
// without rescaling.
package icm20948

import (
	"context"
	"errors"
	"fmt"
	"time"

	"levelsense/internal/i2c"
	"levelsense/internal/motion"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	clkAuto       = 0x01
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D // accel XYZ then gyro XYZ, big-endian

	// Bank 2.
	bank2             = 2
	regGyroSmplrtDiv  = 0x00
	regGyroConfig1    = 0x01
	regAccelSmplrtDiv = 0x11
	regAccelConfig    = 0x14

	// FS_SEL=0 in both config registers with the low-pass filter enabled.
	gyroConfig250dps = 0x01
	accelConfig2g    = 0x01

	// Internal sample clock before the divider.
	baseRateHz = 1125.0
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Device struct {
	dev  regIO
	bank byte
}

func DefaultAddress() uint16 { return addrDefault }

// New probes and configures the device for rateHz output.
func New(dev *i2c.Dev, rateHz float64) (*Device, error) {
	if dev == nil {
		return nil, errors.New("icm20948: dev is nil")
	}
	return newWithIO(dev, rateHz)
}

func newWithIO(dev regIO, rateHz float64) (*Device, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("icm20948: rate must be > 0")
	}
	d := &Device{dev: dev, bank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	if err := d.configure(sampleDivider(rateHz)); err != nil {
		return nil, err
	}
	return d, nil
}

// sampleDivider maps rateHz onto the 8-bit divider, rate = 1125/(1+div),
// rounding toward the faster rate.
func sampleDivider(rateHz float64) byte {
	div := baseRateHz/rateHz - 1
	switch {
	case div < 0:
		return 0
	case div > 255:
		return 255
	}
	return byte(div)
}

func (d *Device) configure(div byte) error {
	if err := d.setBank(0); err != nil {
		return err
	}
	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset clears the bank register too.
	d.bank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	if err := d.dev.WriteReg(regIntEnable, 0x00); err != nil {
		return fmt.Errorf("icm20948: interrupt disable failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	writes := []struct {
		reg, val byte
		what     string
	}{
		{regGyroSmplrtDiv, div, "gyro rate"},
		{regAccelSmplrtDiv, div, "accel rate"},
		{regGyroConfig1, gyroConfig250dps, "gyro range"},
		{regAccelConfig, accelConfig2g, "accel range"},
	}
	for _, w := range writes {
		if err := d.dev.WriteReg(w.reg, w.val); err != nil {
			return fmt.Errorf("icm20948: %s config failed: %w", w.what, err)
		}
	}
	return d.setBank(0)
}

func (d *Device) setBank(bank byte) error {
	if d.bank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.bank = bank
	return nil
}

// ReadRaw returns one accelerometer and one gyroscope triplet in counts.
func (d *Device) ReadRaw() (accel, gyro motion.Raw, err error) {
	if d == nil {
		return motion.Raw{}, motion.Raw{}, errors.New("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return motion.Raw{}, motion.Raw{}, err
	}
	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return motion.Raw{}, motion.Raw{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	be := func(i int) int16 { return int16(buf[i])<<8 | int16(buf[i+1]) }
	accel = motion.Raw{X: be(0), Y: be(2), Z: be(4)}
	gyro = motion.Raw{X: be(6), Y: be(8), Z: be(10)}
	return accel, gyro, nil
}

// Emit receives one payload in the sensor module's wire format.
type Emit func(kind motion.Kind, payload []byte, at time.Time) error

// Run polls at rateHz and emits an accelerometer then a gyroscope payload per
// read. It returns on the first read or emit error, or when ctx is done.
func (d *Device) Run(ctx context.Context, rateHz float64, emit Emit) error {
	if rateHz <= 0 {
		return fmt.Errorf("icm20948: rate must be > 0")
	}
	if emit == nil {
		return errors.New("icm20948: emit is nil")
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := d.poll(now, emit); err != nil {
				return err
			}
		}
	}
}

func (d *Device) poll(now time.Time, emit Emit) error {
	accel, gyro, err := d.ReadRaw()
	if err != nil {
		return err
	}
	if err := emit(motion.Accelerometer, motion.Encode(accel), now); err != nil {
		return err
	}
	return emit(motion.Gyroscope, motion.Encode(gyro), now)
}
