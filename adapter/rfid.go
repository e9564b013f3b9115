package adapter

import (
	"encoding/binary"
	"errors"

	"github.com/arloliu/go-dcl/fm"
)

// RFID data rates of ISO 11785 transponders.
const (
	RFIDRate2kbit uint8 = 1 // 2 kbit/s, RF/64
	RFIDRate4kbit uint8 = 2 // 4 kbit/s, RF/32
)

// ErrNoTag indicates a UID read found no transponder in the field.
var ErrNoTag = errors.New("adapter: no rfid tag present")

// RFID11785Config holds the parameters of an ISO 11785 RFID reader module.
type RFID11785Config struct {
	// DataRate is one of the RFIDRate constants.
	DataRate uint8 `param:"data_rate"`
	// Antenna selects the antenna of multiplexed readers.
	Antenna uint8 `param:"antenna"`
}

// RFID11785 is the adapter of an ISO 11785 RFID reader module.
type RFID11785 struct {
	base
	cfg RFID11785Config
}

var _ fm.Adapter = (*RFID11785)(nil)

// NewRFID11785 creates an RFID reader adapter.
func NewRFID11785(cfg RFID11785Config) *RFID11785 {
	if cfg.DataRate == 0 {
		cfg.DataRate = RFIDRate2kbit
	}

	return &RFID11785{
		base: base{
			objectType: "rfid11785",
			specs: []fm.CommandSpec{
				command(KindReadUID, "read_uid", 0x10, fm.StatusTimeout),
			},
			faults: map[uint16]string{
				0x0001: "antenna failure",
				0x0002: "tag checksum error",
			},
		},
		cfg: cfg,
	}
}

func (r *RFID11785) ValidateConfig() error {
	if r.cfg.DataRate != RFIDRate2kbit && r.cfg.DataRate != RFIDRate4kbit {
		return configErr("data_rate", "unknown data rate %d", r.cfg.DataRate)
	}
	if r.cfg.Antenna > 3 {
		return configErr("antenna", "%d exceeds 3", r.cfg.Antenna)
	}

	return nil
}

// ConfigFrames returns one frame: enable flag, data rate and antenna.
func (r *RFID11785) ConfigFrames() [][]byte {
	return [][]byte{{0x01, r.cfg.DataRate, r.cfg.Antenna}}
}

// ReadUID requests the UID of the transponder in the field.
func (r *RFID11785) ReadUID() fm.Command {
	return fm.Command{Kind: KindReadUID}
}

// DecodeUID decodes a read acknowledge: a presence flag followed by the 32-bit UID.
func (r *RFID11785) DecodeUID(payload []byte) (uint32, error) {
	if err := needLen(payload, 5, "rfid uid"); err != nil {
		return 0, err
	}
	if payload[0] == 0 {
		return 0, ErrNoTag
	}

	return binary.BigEndian.Uint32(payload[1:5]), nil
}
