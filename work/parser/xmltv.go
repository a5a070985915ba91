package parser

import (
	"encoding/xml"
	"strings"

	"apex-live/work/apperr"
	"apex-live/work/logger"
	"apex-live/work/types"
)

// xmltvDocument mirrors just enough of the XMLTV schema to project channel
// and programme facts. Attributes and child elements are addressed
// uniformly through the struct tags; anything else in the document is
// ignored.
type xmltvDocument struct {
	XMLName    xml.Name         `xml:"tv"`
	Channels   []xmltvChannel   `xml:"channel"`
	Programmes []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Channel string   `xml:"channel,attr"`
	Start   string   `xml:"start,attr"`
	Stop    string   `xml:"stop,attr"`
	Titles  []string `xml:"title"`
	Descs   []string `xml:"desc"`
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

// ParseXMLTV projects an XMLTV document into normalized channel and
// programme records. Channels missing an id or display name and programmes
// missing channel, start, stop or title are dropped; nothing about time
// ordering or format is validated here, that is the guide index's job.
// Only a document that fails to parse as XML at all is an error.
func ParseXMLTV(data []byte) (*types.EpgDocument, error) {
	var doc xmltvDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	out := &types.EpgDocument{
		Channels:   make([]types.EpgChannel, 0, len(doc.Channels)),
		Programmes: make([]types.EpgProgramme, 0, len(doc.Programmes)),
	}
	dropped := 0

	for _, ch := range doc.Channels {
		id := strings.TrimSpace(ch.ID)
		name := firstNonEmpty(ch.DisplayNames)
		if id == "" || name == "" {
			dropped++
			continue
		}
		out.Channels = append(out.Channels, types.EpgChannel{ID: id, Name: name})
	}

	for _, p := range doc.Programmes {
		channel := strings.TrimSpace(p.Channel)
		start := strings.TrimSpace(p.Start)
		stop := strings.TrimSpace(p.Stop)
		title := firstNonEmpty(p.Titles)
		if channel == "" || start == "" || stop == "" || title == "" {
			dropped++
			continue
		}
		out.Programmes = append(out.Programmes, types.EpgProgramme{
			Channel: channel,
			Start:   start,
			Stop:    stop,
			Title:   title,
			Desc:    firstNonEmpty(p.Descs),
		})
	}

	if dropped > 0 {
		logger.Debug("{parser - ParseXMLTV} %v", apperr.Wrap(apperr.ErrMalformedGuideData, "%d incomplete records dropped", dropped))
	}
	return out, nil
}
