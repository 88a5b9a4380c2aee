package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/step_computer/internal/gps"
	"github.com/relabs-tech/step_computer/internal/imu"
)

// ErrSkip marks a line the decoder ignores (blank, partial or unknown).
var ErrSkip = errors.New("sensors: line skipped")

// OpenSerial opens a UART at baud, 8N1.
func OpenSerial(port string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return p, nil
}

// Frame is one decoded line: exactly one of Reading or Fix is set.
type Frame struct {
	Reading *imu.Reading
	Fix     *gps.Fix
}

// LineDecoder splits a mixed UART stream. Lines "ax,ay,az,gx,gy,gz"
// become readings; lines starting with '$' are NMEA sentences and RMC
// sentences become fixes.
type LineDecoder struct {
	r      *bufio.Reader
	source string
	now    func() time.Time
}

func NewLineDecoder(r io.Reader, source string) *LineDecoder {
	return &LineDecoder{r: bufio.NewReader(r), source: source, now: time.Now}
}

// Next returns the next usable frame, skipping lines that do not decode.
// It returns the underlying read error (io.EOF at end of stream).
func (d *LineDecoder) Next() (Frame, error) {
	for {
		line, err := d.r.ReadString('\n')
		if line != "" {
			f, derr := d.decode(line)
			if derr == nil {
				return f, nil
			}
		}
		if err != nil {
			return Frame{}, err
		}
	}
}

func (d *LineDecoder) decode(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, ErrSkip
	}

	if strings.HasPrefix(line, "$") {
		sentence, err := nmea.Parse(line)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrSkip, err)
		}
		if sentence.DataType() != nmea.TypeRMC {
			return Frame{}, ErrSkip
		}
		fix := gps.FromRMC(sentence.(nmea.RMC))
		return Frame{Fix: &fix}, nil
	}

	r, err := ParseReadingLine(line)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrSkip, err)
	}
	r.Source = d.source
	r.Timestamp = d.now()
	return Frame{Reading: &r}, nil
}

// ParseReadingLine parses "ax,ay,az,gx,gy,gz".
func ParseReadingLine(line string) (imu.Reading, error) {
	parts := strings.Split(line, ",")
	if len(parts) != len(imu.RequiredFields) {
		return imu.Reading{}, fmt.Errorf("got %d fields, want %d", len(parts), len(imu.RequiredFields))
	}
	var v [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return imu.Reading{}, fmt.Errorf("%s: %w", imu.RequiredFields[i], err)
		}
		v[i] = f
	}
	return imu.Reading{AccelX: v[0], AccelY: v[1], AccelZ: v[2], GyroX: v[3], GyroY: v[4], GyroZ: v[5]}, nil
}
