// Package twiml builds the XML response documents the telephony provider
// executes against a call leg. Handlers compose typed verbs instead of
// concatenating XML by hand.
package twiml

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Response is the root document returned to the provider. Verbs execute
// in order against the call leg the webhook belongs to.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Add appends verbs to the document.
func (r *Response) Add(verbs ...any) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Render marshals the document with the XML declaration prepended.
func (r *Response) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encoding response document: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flushing response document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Say speaks text to the leg.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Play streams an audio resource to the leg.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Pause holds the leg silent for Length seconds.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Redirect transfers webhook control for the leg to another URL.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the leg.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Gather collects DTMF digits and posts them to Action. Nested verbs
// play while the provider is listening.
type Gather struct {
	XMLName   xml.Name `xml:"Gather"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Verbs     []any
}

// Dial bridges the leg to one or more numbers. Action receives the dial
// outcome when every number resolves.
type Dial struct {
	XMLName  xml.Name `xml:"Dial"`
	Action   string   `xml:"action,attr,omitempty"`
	Method   string   `xml:"method,attr,omitempty"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Numbers  []Number
	Conf     *Conference
}

// Number is one dial destination. URL, when set, is fetched and executed
// against the answered leg before bridging (the whisper hook).
type Number struct {
	XMLName xml.Name `xml:"Number"`
	URL     string   `xml:"url,attr,omitempty"`
	Method  string   `xml:"method,attr,omitempty"`
	To      string   `xml:",chardata"`
}

// Connect hands the leg's media to a bidirectional stream, used to put
// the caller on the AI runtime.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  Stream
}

// Stream is the media stream destination inside a Connect verb.
type Stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// Conference joins the leg to a named conference room, used to bridge
// caller and agent legs.
type Conference struct {
	XMLName      xml.Name `xml:"Conference"`
	EndOnExit    bool     `xml:"endConferenceOnExit,attr"`
	StartOnEnter bool     `xml:"startConferenceOnEnter,attr"`
	Room         string   `xml:",chardata"`
}

// Record captures caller audio, posting the recording to Action.
type Record struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}
