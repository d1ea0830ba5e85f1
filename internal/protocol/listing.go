package protocol

import (
	"strconv"
	"strings"
	"time"

	"hermeshub/internal/errors"
)

// CreationTimeLayout is the text form of a record's creation time in LIST payloads
const CreationTimeLayout = time.ANSIC

const (
	listFieldSeparator  = "@"
	listRecordSeparator = "\n"
)

// FileRecord describes one stored file as reported by LIST
type FileRecord struct {
	Name      string
	CreatedAt time.Time
	Size      uint64
}

// FormatListing encodes records as name@ctime@size lines joined by newline.
// An empty slice encodes to an empty payload.
func FormatListing(records []FileRecord) []byte {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, strings.Join([]string{
			r.Name,
			r.CreatedAt.Format(CreationTimeLayout),
			strconv.FormatUint(r.Size, 10),
		}, listFieldSeparator))
	}
	return []byte(strings.Join(lines, listRecordSeparator))
}

// ParseListing decodes a LIST payload. Fields are taken from the right so a
// name may itself contain the separator. Any line that does not carry all three
// fields fails the whole parse.
func ParseListing(payload []byte) ([]FileRecord, error) {
	records := []FileRecord{}
	if len(payload) == 0 {
		return records, nil
	}

	for _, line := range strings.Split(string(payload), listRecordSeparator) {
		record, err := parseListLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func parseListLine(line string) (FileRecord, error) {
	sizeAt := strings.LastIndex(line, listFieldSeparator)
	if sizeAt < 0 {
		return FileRecord{}, errors.NewMalformedListEntryError(line, "expected 3 fields, found 1")
	}
	timeAt := strings.LastIndex(line[:sizeAt], listFieldSeparator)
	if timeAt < 0 {
		return FileRecord{}, errors.NewMalformedListEntryError(line, "expected 3 fields, found 2")
	}

	name := line[:timeAt]
	if name == "" {
		return FileRecord{}, errors.NewMalformedListEntryError(line, "empty name")
	}

	createdAt, err := time.ParseInLocation(CreationTimeLayout, line[timeAt+1:sizeAt], time.Local)
	if err != nil {
		return FileRecord{}, errors.NewMalformedListEntryError(line, "invalid creation time")
	}

	size, err := strconv.ParseUint(line[sizeAt+1:], 10, 64)
	if err != nil {
		return FileRecord{}, errors.NewMalformedListEntryError(line, "invalid size")
	}

	return FileRecord{Name: name, CreatedAt: createdAt, Size: size}, nil
}
