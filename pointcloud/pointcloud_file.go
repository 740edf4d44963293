package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the data encoding of a PCD file.
type PCDType int

const (
	// PCDAscii writes one point per text line.
	PCDAscii PCDType = iota
	// PCDBinary writes little-endian packed records.
	PCDBinary
)

// pcdRecordSize is x, y, z as float32 followed by packed rgb.
const pcdRecordSize = 16

func colorToPCDInt(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{R: uint8(0xFF & (c >> 16)), G: uint8(0xFF & (c >> 8)), B: uint8(0xFF & c), A: 255}
}

// ToPCD writes the cloud as an unorganized PCD v0.7 file with x y z rgb fields. Positions are
// written in metres.
func ToPCD(cloud Cloud, out io.Writer, outputType PCDType) error {
	w := bufio.NewWriter(out)
	data := "ascii"
	if outputType == PCDBinary {
		data = "binary"
	}
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS x y z rgb\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F U\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n", len(cloud), len(cloud), data); err != nil {
		return err
	}
	buf := make([]byte, pcdRecordSize)
	for _, s := range cloud {
		p := s.Position.Mul(1. / 1000)
		var err error
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(s.Color))
			_, err = w.Write(buf)
		case PCDAscii:
			_, err = fmt.Fprintf(w, "%f %f %f %d\n", p.X, p.Y, p.Z, colorToPCDInt(s.Color))
		default:
			return errors.Errorf("unknown PCD type %d", outputType)
		}
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteToPCDFile writes the cloud to a binary PCD file.
func WriteToPCDFile(cloud Cloud, fn string) (err error) {
	f, err := os.Create(fn) //nolint:gosec
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ToPCD(cloud, f, PCDBinary)
}

// ReadPCD reads a file written by ToPCD.
func ReadPCD(in io.Reader) (Cloud, error) {
	r := bufio.NewReader(in)
	var points int
	var data string
	for data == "" {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading PCD header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "FIELDS":
			if strings.Join(fields[1:], " ") != "x y z rgb" {
				return nil, errors.Errorf("unsupported PCD fields %q", strings.Join(fields[1:], " "))
			}
		case "POINTS":
			if len(fields) != 2 {
				return nil, errors.Errorf("malformed POINTS line %q", line)
			}
			if points, err = strconv.Atoi(fields[1]); err != nil {
				return nil, errors.Wrap(err, "POINTS")
			}
		case "DATA":
			if len(fields) != 2 {
				return nil, errors.Errorf("malformed DATA line %q", line)
			}
			data = fields[1]
		}
	}
	cloud := make(Cloud, 0, points)
	switch data {
	case "binary":
		buf := make([]byte, pcdRecordSize)
		for i := 0; i < points; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, errors.Wrapf(err, "point %d", i)
			}
			p := r3.Vector{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))),
			}
			cloud = append(cloud, NewPointSample(p.Mul(1000), pcdIntToColor(binary.LittleEndian.Uint32(buf[12:]))))
		}
	case "ascii":
		for i := 0; i < points; i++ {
			var x, y, z float64
			var c uint32
			if _, err := fmt.Fscanf(r, "%f %f %f %d\n", &x, &y, &z, &c); err != nil {
				return nil, errors.Wrapf(err, "point %d", i)
			}
			cloud = append(cloud, NewPointSample(r3.Vector{X: x, Y: y, Z: z}.Mul(1000), pcdIntToColor(c)))
		}
	default:
		return nil, errors.Errorf("unsupported PCD data encoding %q", data)
	}
	return cloud, nil
}
