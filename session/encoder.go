package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const schemaVersion1 = 1

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes a session record with a leading schema version byte.
func Encode(s *Session) ([]byte, error) {
	if len(s.IdentityID) > 255 || len(s.DeviceID) > 255 {
		return nil, errors.New("session id field too long")
	}
	if len(s.Purpose) > 65535 {
		return nil, errors.New("session purpose too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(schemaVersion1)

	buf.WriteByte(byte(len(s.IdentityID)))
	buf.WriteString(s.IdentityID)
	buf.WriteByte(byte(len(s.DeviceID)))
	buf.WriteString(s.DeviceID)

	buf.Write(s.RefreshHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	if s.Verified {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, s.VerifiedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Purpose))); err != nil {
		return nil, err
	}
	buf.WriteString(s.Purpose)

	return buf.Bytes(), nil
}

// Decode deserializes a session blob. The SessionID is not part of the
// blob; callers set it from the Redis key.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != schemaVersion1 {
		return nil, ErrCorrupt
	}

	s := &Session{}
	if s.IdentityID, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}
	if s.DeviceID, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}
	if _, err = io.ReadFull(r, s.RefreshHash[:]); err != nil {
		return nil, ErrCorrupt
	}
	if err = binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrCorrupt
	}
	if err = binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrCorrupt
	}

	verified, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	s.Verified = verified == 1
	if err = binary.Read(r, binary.BigEndian, &s.VerifiedAt); err != nil {
		return nil, ErrCorrupt
	}

	var purposeLen uint16
	if err = binary.Read(r, binary.BigEndian, &purposeLen); err != nil {
		return nil, ErrCorrupt
	}
	purpose := make([]byte, purposeLen)
	if _, err = io.ReadFull(r, purpose); err != nil {
		return nil, ErrCorrupt
	}
	s.Purpose = string(purpose)

	if r.Len() != 0 {
		return nil, ErrCorrupt
	}
	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
