package dicomparser

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const (
	directoryRecordSequence = "DirectoryRecordSequence"
	directoryRecordType     = "DirectoryRecordType"
)

// cleanElement converts an element value into a JSON-safe domain value.
// Single values become scalars, multi-values become lists.
func cleanElement(elem *dicom.Element) domain.Value {
	switch elem.Value.ValueType() {
	case dicom.Strings:
		raw, _ := elem.Value.GetValue().([]string)
		items := make([]domain.Value, 0, len(raw))
		for _, s := range raw {
			items = append(items, domain.String(trimPadding(s)))
		}
		return collapse(items)
	case dicom.Bytes:
		raw, _ := elem.Value.GetValue().([]byte)
		return domain.String(trimPadding(strings.ToValidUTF8(string(raw), "")))
	case dicom.Ints:
		raw, _ := elem.Value.GetValue().([]int)
		items := make([]domain.Value, 0, len(raw))
		for _, n := range raw {
			items = append(items, domain.Int(int64(n)))
		}
		return collapse(items)
	case dicom.Floats:
		raw, _ := elem.Value.GetValue().([]float64)
		items := make([]domain.Value, 0, len(raw))
		for _, f := range raw {
			items = append(items, domain.Float(f))
		}
		return collapse(items)
	case dicom.Sequences:
		items := sequenceItems(elem)
		out := make([]domain.Value, 0, len(items))
		for _, item := range items {
			out = append(out, cleanItem(item))
		}
		return domain.List(out...)
	default:
		return domain.String(fmt.Sprint(elem.Value.GetValue()))
	}
}

// cleanItem renders one sequence item as a keyword map, skipping private tags.
func cleanItem(elements []*dicom.Element) domain.Value {
	fields := make(map[string]domain.Value, len(elements))
	for _, elem := range elements {
		if elem == nil || elem.Value == nil {
			continue
		}
		keyword, ok := keywordOf(elem.Tag)
		if !ok {
			continue
		}
		fields[keyword] = cleanElement(elem)
	}
	return domain.Map(fields)
}

// summarizeDirectoryRecords replaces a DICOMDIR record list with its size and
// a histogram of record types.
func summarizeDirectoryRecords(elem *dicom.Element) domain.Value {
	items := sequenceItems(elem)
	types := make(map[string]domain.Value)
	counts := make(map[string]int64)
	for _, item := range items {
		for _, child := range item {
			if child == nil || child.Value == nil {
				continue
			}
			if name, ok := keywordOf(child.Tag); !ok || name != directoryRecordType {
				continue
			}
			recordType := strings.TrimSpace(cleanElement(child).Text())
			counts[recordType]++
		}
	}
	for recordType, n := range counts {
		types[recordType] = domain.Int(n)
	}
	return domain.Map(map[string]domain.Value{
		"count": domain.Int(int64(len(items))),
		"types": domain.Map(types),
	})
}

func sequenceItems(elem *dicom.Element) [][]*dicom.Element {
	raw, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}
	out := make([][]*dicom.Element, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		elements, _ := item.GetValue().([]*dicom.Element)
		out = append(out, elements)
	}
	return out
}

func collapse(items []domain.Value) domain.Value {
	switch len(items) {
	case 0:
		return domain.Null()
	case 1:
		return items[0]
	default:
		return domain.List(items...)
	}
}
