package device

import (
	"context"
	"fmt"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"ambientd/internal/color"
)

// SPIConfig names the physical bus a WS2812-class strip is wired to.
// Replaces the teacher's cgo ws2812_* shim: periph.io is the hardware
// access library the rest of the corpus reaches for (see
// google/periph's lepton driver), so the SPI device talks to real
// hardware without a C toolchain dependency.
type SPIConfig struct {
	BusName   string // e.g. "/dev/spidev0.0", or "" for periph's default
	SpeedHz   int64
	LEDCount  int
}

// SPIDevice drives a WS2812-protocol LED strip over SPI: each bit of
// the GRB-ordered color stream is encoded as either a long or short SPI
// clock pulse, the common "bit-bang over SPI" technique for driving
// WS2812 without a dedicated PWM peripheral.
type SPIDevice struct {
	cfg  SPIConfig
	port spi.PortCloser
	conn spi.Conn
}

// NewSPI constructs an unopened SPIDevice for cfg.
func NewSPI(cfg SPIConfig) *SPIDevice {
	return &SPIDevice{cfg: cfg}
}

func (d *SPIDevice) Open(ctx context.Context) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("device: periph host init: %w", err)
	}
	port, err := spireg.Open(d.cfg.BusName)
	if err != nil {
		return fmt.Errorf("device: open spi %q: %w", d.cfg.BusName, err)
	}
	speed := physic.Frequency(d.cfg.SpeedHz) * physic.Hertz
	if d.cfg.SpeedHz == 0 {
		speed = 2400 * physic.KiloHertz
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("device: spi connect: %w", err)
	}
	d.port = port
	d.conn = conn
	return nil
}

func (d *SPIDevice) WriteLEDs(ctx context.Context, colors []color.RGB) error {
	if d.conn == nil {
		return fmt.Errorf("device: spi not open")
	}
	if len(colors) != d.cfg.LEDCount {
		return fmt.Errorf("device: expected %d LEDs, got %d", d.cfg.LEDCount, len(colors))
	}
	wire := encodeWS2812(colors)
	return d.conn.Tx(wire, nil)
}

func (d *SPIDevice) Close() error {
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

// encodeWS2812 turns GRB-ordered color bytes into the SPI bit pattern a
// WS2812 strip decodes as its own one-wire protocol: each data bit
// becomes 3 SPI bits (1 -> 110, 0 -> 100) so an 2.4MHz SPI clock
// approximates the ~800kHz WS2812 bit period.
func encodeWS2812(colors []color.RGB) []byte {
	out := make([]byte, len(colors)*3*3)
	pos := 0 // next SPI bit to fill, MSB first
	for _, c := range colors {
		for _, b := range [3]byte{c.G, c.R, c.B} {
			for bit := 7; bit >= 0; bit-- {
				pattern := byte(0b100)
				if b&(1<<uint(bit)) != 0 {
					pattern = 0b110
				}
				for p := 2; p >= 0; p-- {
					if pattern&(1<<uint(p)) != 0 {
						out[pos/8] |= 0x80 >> uint(pos%8)
					}
					pos++
				}
			}
		}
	}
	return out
}
