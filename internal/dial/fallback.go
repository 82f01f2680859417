package dial

import "github.com/voxgate/voxgate/internal/twiml"

// Fallback actions a forwarding policy can configure.
const (
	FallbackVoicemail  = "voicemail"
	FallbackAICallback = "ai_callback"
	FallbackHangup     = "hangup"
)

// FallbackURLs carries the webhook endpoints fallback documents point at.
type FallbackURLs struct {
	// RecordingAction receives the finished voicemail recording.
	RecordingAction string
	// AIConnect reconnects the caller to the AI leg.
	AIConnect string
}

// RenderFallback builds the document executed against the caller leg when
// a ring sequence or warm transfer does not resolve. Unknown fallback
// values degrade to a polite hangup so the caller never hears dead air.
func RenderFallback(fallback string, urls FallbackURLs) *twiml.Response {
	r := &twiml.Response{}
	switch fallback {
	case FallbackVoicemail:
		r.Add(
			twiml.Say{Text: "Nobody is available to take your call right now. Please leave a message after the tone."},
			twiml.Record{
				Action:    urls.RecordingAction,
				Method:    "POST",
				MaxLength: 120,
				PlayBeep:  true,
			},
			twiml.Hangup{},
		)
	case FallbackAICallback:
		r.Add(
			twiml.Say{Text: "Our team is unavailable at the moment. Our assistant will take your details and arrange a callback."},
			twiml.Redirect{Method: "POST", URL: urls.AIConnect},
		)
	default:
		r.Add(
			twiml.Say{Text: "Nobody is available to take your call right now. Please try again later. Goodbye."},
			twiml.Hangup{},
		)
	}
	return r
}
