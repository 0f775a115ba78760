package speechtotext

import "github.com/koscakluka/ema-dialog/core/audio"

type RecognitionOptions struct {
	StartCallback  func()
	EndCallback    func()
	ErrorCallback  func(err *Error)
	ResultCallback func(results []Result)

	EncodingInfo audio.EncodingInfo
	Language     string
}

type RecognitionOption func(*RecognitionOptions)

func NewRecognitionOptions(opts ...RecognitionOption) RecognitionOptions {
	options := RecognitionOptions{
		StartCallback:  func() {},
		EndCallback:    func() {},
		ErrorCallback:  func(*Error) {},
		ResultCallback: func([]Result) {},
		EncodingInfo:   audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithStartCallback is called once the session is ready to receive audio.
func WithStartCallback(callback func()) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.StartCallback = callback
		}
	}
}

// WithEndCallback is called exactly once when the session ends, whether it
// was stopped, dropped by the service or failed.
func WithEndCallback(callback func()) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.EndCallback = callback
		}
	}
}

func WithErrorCallback(callback func(err *Error)) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.ErrorCallback = callback
		}
	}
}

// WithResultCallback receives every result event. The slice holds the
// results of the current utterance so far, the last one being the newest.
func WithResultCallback(callback func(results []Result)) RecognitionOption {
	return func(o *RecognitionOptions) {
		if callback != nil {
			o.ResultCallback = callback
		}
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) RecognitionOption {
	return func(o *RecognitionOptions) {
		if !encodingInfo.IsZero() {
			o.EncodingInfo = encodingInfo
		}
	}
}

func WithLanguage(language string) RecognitionOption {
	return func(o *RecognitionOptions) {
		o.Language = language
	}
}
