package deepgram

import "slices"

type deepgramVoice string

const (
	VoiceThalia    deepgramVoice = "aura-2-thalia-en"
	VoiceAndromeda deepgramVoice = "aura-2-andromeda-en"
	VoiceHelena    deepgramVoice = "aura-2-helena-en"
	VoiceApollo    deepgramVoice = "aura-2-apollo-en"
	VoiceArcas     deepgramVoice = "aura-2-arcas-en"
	VoiceAries     deepgramVoice = "aura-2-aries-en"
	VoiceAsteria   deepgramVoice = "aura-asteria-en"
	VoiceLuna      deepgramVoice = "aura-luna-en"
	VoiceOrion     deepgramVoice = "aura-orion-en"

	defaultVoice = VoiceThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceThalia,
		VoiceAndromeda,
		VoiceHelena,
		VoiceApollo,
		VoiceArcas,
		VoiceAries,
		VoiceAsteria,
		VoiceLuna,
		VoiceOrion,
	}
}

func isAvailable(voice string) bool {
	return slices.Contains(GetAvailableVoices(), deepgramVoice(voice))
}
