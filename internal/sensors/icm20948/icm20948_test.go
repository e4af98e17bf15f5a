package icm20948

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"levelsense/internal/motion"
)

type fakeI2C struct {
	regs   map[byte][]byte
	writes []writeOp

	readErrFor  map[byte]error
	writeErrFor map[byte]error
}

type writeOp struct {
	reg byte
	val byte
}

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	if err := f.readErrFor[reg]; err != nil {
		return 0, err
	}
	b := f.regs[reg]
	if len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if err := f.readErrFor[reg]; err != nil {
		return err
	}
	b := f.regs[reg]
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	if err := f.writeErrFor[reg]; err != nil {
		return err
	}
	f.writes = append(f.writes, writeOp{reg: reg, val: value})
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

// standing is a module standing up and still: +1 g on Y, no rotation except
// 1 deg/s about Z.
func standing() *fakeI2C {
	return &fakeI2C{regs: map[byte][]byte{
		regWhoAmI: {whoAmIVal},
		regAccelXoutH: {
			0x00, 0x00, // ax
			0x40, 0x00, // ay = 16384
			0xFF, 0x9C, // az = -100
			0x00, 0x00, // gx
			0x00, 0x00, // gy
			0x00, 0x83, // gz = 131
		},
	}}
}

func TestNew_WhoAmIMismatch(t *testing.T) {
	noSleep(t)
	f := &fakeI2C{regs: map[byte][]byte{regWhoAmI: {0x00}}}
	if _, err := newWithIO(f, 50); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNew_InvalidRate(t *testing.T) {
	noSleep(t)
	if _, err := newWithIO(standing(), 0); err == nil {
		t.Fatalf("expected error for zero rate")
	}
}

func TestNew_ConfiguresRangesAndRate(t *testing.T) {
	noSleep(t)
	f := standing()
	if _, err := newWithIO(f, 50); err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	want := map[byte]byte{
		regGyroSmplrtDiv:  21,
		regAccelSmplrtDiv: 21,
		regGyroConfig1:    gyroConfig250dps,
		regAccelConfig:    accelConfig2g,
	}
	inBank2 := false
	var sawReset, sawWake bool
	for _, w := range f.writes {
		switch {
		case w.reg == regBankSel:
			inBank2 = w.val == bank2<<4
		case !inBank2 && w.reg == regPwrMgmt1 && w.val == bitReset:
			sawReset = true
		case !inBank2 && w.reg == regPwrMgmt1 && w.val == clkAuto:
			sawWake = true
		case inBank2:
			if v, ok := want[w.reg]; ok {
				if w.val != v {
					t.Fatalf("bank2 reg 0x%02X=0x%02X want 0x%02X", w.reg, w.val, v)
				}
				delete(want, w.reg)
			}
		}
	}
	if !sawReset || !sawWake {
		t.Fatalf("reset=%t wake=%t want both", sawReset, sawWake)
	}
	if len(want) != 0 {
		t.Fatalf("missing bank2 writes: %v", want)
	}
	if inBank2 {
		t.Fatalf("expected bank 0 selected after init")
	}
}

func TestNew_ConfigWriteFailure(t *testing.T) {
	noSleep(t)
	f := standing()
	f.writeErrFor = map[byte]error{regPwrMgmt1: errors.New("nack")}
	if _, err := newWithIO(f, 50); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSampleDivider(t *testing.T) {
	cases := []struct {
		rate float64
		want byte
	}{
		{1125, 0},
		{5000, 0},
		{50, 21},
		{25, 44},
		{1, 255},
	}
	for _, tc := range cases {
		if got := sampleDivider(tc.rate); got != tc.want {
			t.Fatalf("sampleDivider(%v)=%d want %d", tc.rate, got, tc.want)
		}
	}
}

func TestReadRaw_BigEndianRegisters(t *testing.T) {
	noSleep(t)
	d, err := newWithIO(standing(), 50)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	accel, gyro, err := d.ReadRaw()
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if accel != (motion.Raw{X: 0, Y: 16384, Z: -100}) {
		t.Fatalf("accel=%+v", accel)
	}
	if gyro != (motion.Raw{Z: 131}) {
		t.Fatalf("gyro=%+v", gyro)
	}
}

func TestReadRaw_Error(t *testing.T) {
	noSleep(t)
	f := standing()
	d, err := newWithIO(f, 50)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	f.readErrFor = map[byte]error{regAccelXoutH: errors.New("bus error")}
	if _, _, err := d.ReadRaw(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPoll_EmitsWirePayloads(t *testing.T) {
	noSleep(t)
	d, err := newWithIO(standing(), 50)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var got []motion.Sample
	err = d.poll(now, func(kind motion.Kind, payload []byte, at time.Time) error {
		s, err := motion.Decode(kind, payload, at)
		if err != nil {
			return err
		}
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 2 || got[0].Kind != motion.Accelerometer || got[1].Kind != motion.Gyroscope {
		t.Fatalf("unexpected samples: %+v", got)
	}
	if math.Abs(got[0].Y-1) > 1e-9 {
		t.Fatalf("accel Y=%v want 1g", got[0].Y)
	}
	if math.Abs(got[1].Z-1) > 1e-9 {
		t.Fatalf("gyro Z=%v want 1 deg/s", got[1].Z)
	}
	if !got[0].Time.Equal(now) || !got[1].Time.Equal(now) {
		t.Fatalf("unexpected timestamps: %v %v", got[0].Time, got[1].Time)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	noSleep(t)
	d, err := newWithIO(standing(), 50)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	n := 0
	err = d.Run(ctx, 200, func(motion.Kind, []byte, time.Time) error {
		n++
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if n == 0 || n%2 != 0 {
		t.Fatalf("emits=%d want a positive even count", n)
	}
}

func TestRun_EmitErrorStops(t *testing.T) {
	noSleep(t)
	d, err := newWithIO(standing(), 50)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	boom := errors.New("boom")
	err = d.Run(context.Background(), 200, func(motion.Kind, []byte, time.Time) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}
