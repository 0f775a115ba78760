package events

const (
	KindRecognitionStateChanged Kind = "recognition.state_changed"
	KindRecognitionFailed       Kind = "recognition.failed"
)

type RecognitionStateChanged struct {
	Base
	State string
}

func NewRecognitionStateChanged(state string) RecognitionStateChanged {
	return RecognitionStateChanged{Base: NewBase(KindRecognitionStateChanged), State: state}
}

type RecognitionFailed struct {
	Base
	Code  string
	Fatal bool
	Err   error
}

func NewRecognitionFailed(code string, fatal bool, err error) RecognitionFailed {
	return RecognitionFailed{Base: NewBase(KindRecognitionFailed), Code: code, Fatal: fatal, Err: err}
}
