package kvs

// Direction is the data phase direction of a SCSI command.
type Direction int

const (
	DirNone Direction = iota // no data phase
	DirIn                    // scanner to host
	DirOut                   // host to scanner
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	default:
		return "none"
	}
}

// Command is one SCSI command ready for a transport to execute.
type Command struct {
	CDB       []byte
	Direction Direction
	// DataLen is the expected data phase length in bytes. For DirIn it is
	// the maximum the scanner may return; for DirOut it must equal the
	// payload length.
	DataLen int
}

// Name returns the human-readable command name for logging.
func (c Command) Name() string {
	if len(c.CDB) == 0 {
		return "EMPTY"
	}
	var sub byte
	if len(c.CDB) > 2 {
		sub = c.CDB[2]
	}
	return CommandName(c.CDB[0], sub)
}

// Status is the outcome category of one transport exchange.
type Status int

const (
	StatusGood Status = iota
	StatusCheckCondition
	StatusTransportFailed
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusCheckCondition:
		return "check-condition"
	default:
		return "transport-failed"
	}
}

// TransferResult is the outcome of one command exchange. Whenever Status
// is StatusCheckCondition, Sense holds a freshly populated sense buffer.
type TransferResult struct {
	Status      Status
	Transferred int
	Sense       SenseInfo
}
