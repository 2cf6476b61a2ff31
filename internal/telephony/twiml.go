package telephony

import (
	"encoding/xml"
	"fmt"
)

// Recipient types accepted by the dial endpoint.
const (
	RecipientTypeClient = "client"
	RecipientTypeNumber = "number"
)

type transcriptionVerb struct {
	XMLName           xml.Name `xml:"Transcription"`
	LanguageCode      string   `xml:"languageCode,attr"`
	StatusCallbackURL string   `xml:"statusCallbackUrl,attr"`
}

type startVerb struct {
	XMLName       xml.Name `xml:"Start"`
	Transcription transcriptionVerb
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type dialVerb struct {
	XMLName        xml.Name `xml:"Dial"`
	AnswerOnBridge bool     `xml:"answerOnBridge,attr"`
	CallerID       string   `xml:"callerId,attr,omitempty"`
	Client         string   `xml:"Client,omitempty"`
	Number         string   `xml:"Number,omitempty"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// dialDocument starts transcription and bridges the call to the recipient.
type dialDocument struct {
	XMLName xml.Name `xml:"Response"`
	Start   startVerb
	Dial    dialVerb
}

// speakDocument speaks text into a leg, then restarts transcription and
// holds the leg open so the bridge survives the redirect.
type speakDocument struct {
	XMLName xml.Name `xml:"Response"`
	Say     sayVerb
	Start   startVerb
	Pause   pauseVerb
}

// resumeDocument restarts transcription after an interruption.
type resumeDocument struct {
	XMLName xml.Name `xml:"Response"`
	Start   startVerb
	Pause   pauseVerb
}

func newStartVerb(languageCode, callbackURL string) startVerb {
	return startVerb{
		Transcription: transcriptionVerb{
			LanguageCode:      languageCode,
			StatusCallbackURL: callbackURL,
		},
	}
}

// DialTwiML builds the call-setup document: start transcription with a
// status callback, then dial the recipient as a client identity or a phone
// number.
func DialTwiML(recipientType, to, callerID, languageCode, callbackURL string) (string, error) {
	doc := dialDocument{
		Start: newStartVerb(languageCode, callbackURL),
		Dial: dialVerb{
			AnswerOnBridge: true,
			CallerID:       callerID,
		},
	}

	switch recipientType {
	case RecipientTypeClient:
		doc.Dial.Client = to
	case RecipientTypeNumber:
		doc.Dial.Number = to
	default:
		return "", fmt.Errorf("invalid recipient type: %q", recipientType)
	}

	return marshalTwiML(doc)
}

// SpeakTwiML builds the TTS-injection document for a redirected leg.
func SpeakTwiML(text, voice, languageCode, callbackURL string) (string, error) {
	doc := speakDocument{
		Say:   sayVerb{Voice: voice, Text: text},
		Start: newStartVerb(languageCode, callbackURL),
		Pause: pauseVerb{Length: 3600},
	}
	return marshalTwiML(doc)
}

// ResumeTwiML builds the document that re-issues the transcription start so
// captioning continues for the rest of the call.
func ResumeTwiML(languageCode, callbackURL string) (string, error) {
	doc := resumeDocument{
		Start: newStartVerb(languageCode, callbackURL),
		Pause: pauseVerb{Length: 3600},
	}
	return marshalTwiML(doc)
}

func marshalTwiML(doc any) (string, error) {
	data, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal TwiML: %w", err)
	}
	return xml.Header + string(data), nil
}
