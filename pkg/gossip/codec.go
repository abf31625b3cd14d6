package gossip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedMessage        = errors.New("gossip: malformed message")
	ErrUnrecognizedMessageKind = errors.New("gossip: unrecognized message kind")
)

const (
	joinRequestSize = 1 + 4 + 2 + 8
	listHeaderSize  = 1 + 4
	recordSize      = 4 + 2 + 8 + 8
)

// Encode serializes m into its fixed big-endian wire layout.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case JoinRequest:
		return encodeJoinRequest(&m), nil
	case *JoinRequest:
		return encodeJoinRequest(m), nil
	case JoinReply:
		return encodeRecords(MsgJoinReply, m.Members), nil
	case *JoinReply:
		return encodeRecords(MsgJoinReply, m.Members), nil
	case GossipDigest:
		return encodeRecords(MsgGossip, m.Members), nil
	case *GossipDigest:
		return encodeRecords(MsgGossip, m.Members), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnrecognizedMessageKind, m)
	}
}

func encodeJoinRequest(m *JoinRequest) []byte {
	b := make([]byte, 0, joinRequestSize)
	b = append(b, byte(MsgJoinRequest))
	b = binary.BigEndian.AppendUint32(b, m.From.ID)
	b = binary.BigEndian.AppendUint16(b, m.From.Port)
	b = binary.BigEndian.AppendUint64(b, uint64(m.Heartbeat))
	return b
}

func encodeRecords(t MsgType, recs []MemberRecord) []byte {
	b := make([]byte, 0, listHeaderSize+len(recs)*recordSize)
	b = append(b, byte(t))
	b = binary.BigEndian.AppendUint32(b, uint32(len(recs)))
	for _, r := range recs {
		b = binary.BigEndian.AppendUint32(b, r.ID.ID)
		b = binary.BigEndian.AppendUint16(b, r.ID.Port)
		b = binary.BigEndian.AppendUint64(b, uint64(r.Heartbeat))
		b = binary.BigEndian.AppendUint64(b, uint64(r.LastRefreshed))
	}
	return b
}

// Decode parses a wire payload. Records carried by JoinReply and GossipDigest
// come back with Alive set, since only live records are ever sent.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}
	switch t := MsgType(b[0]); t {
	case MsgJoinRequest:
		if len(b) != joinRequestSize {
			return nil, fmt.Errorf("%w: join request is %d bytes, want %d", ErrMalformedMessage, len(b), joinRequestSize)
		}
		return JoinRequest{
			From: NodeID{
				ID:   binary.BigEndian.Uint32(b[1:5]),
				Port: binary.BigEndian.Uint16(b[5:7]),
			},
			Heartbeat: int64(binary.BigEndian.Uint64(b[7:15])),
		}, nil
	case MsgJoinReply:
		recs, err := decodeRecords(b)
		if err != nil {
			return nil, err
		}
		return JoinReply{Members: recs}, nil
	case MsgGossip:
		recs, err := decodeRecords(b)
		if err != nil {
			return nil, err
		}
		return GossipDigest{Members: recs}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnrecognizedMessageKind, uint8(t))
	}
}

func decodeRecords(b []byte) ([]MemberRecord, error) {
	if len(b) < listHeaderSize {
		return nil, fmt.Errorf("%w: %s header truncated", ErrMalformedMessage, MsgType(b[0]))
	}
	count := uint64(binary.BigEndian.Uint32(b[1:5]))
	body := b[listHeaderSize:]
	if uint64(len(body)) != count*recordSize {
		return nil, fmt.Errorf("%w: %s declares %d records in %d bytes", ErrMalformedMessage, MsgType(b[0]), count, len(body))
	}
	recs := make([]MemberRecord, 0, count)
	for off := 0; off < len(body); off += recordSize {
		r := body[off : off+recordSize]
		recs = append(recs, MemberRecord{
			ID: NodeID{
				ID:   binary.BigEndian.Uint32(r[0:4]),
				Port: binary.BigEndian.Uint16(r[4:6]),
			},
			Heartbeat:     int64(binary.BigEndian.Uint64(r[6:14])),
			LastRefreshed: time.Duration(binary.BigEndian.Uint64(r[14:22])),
			Alive:         true,
		})
	}
	return recs, nil
}
