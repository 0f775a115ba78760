package backend

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-dialog/core/conversation"
)

type message struct {
	Role    string `json:"role" jsonschema:"title=Role,enum=user,enum=assistant"`
	Content string `json:"content" jsonschema:"title=Content,description=What was said in the turn"`
}

type requestBody struct {
	Conversation []message `json:"conversation" jsonschema:"title=Conversation,description=The most recent turns oldest first"`
}

type responseBody struct {
	Response string  `json:"response" jsonschema:"title=Response,description=Text of the assistant reply"`
	AudioURL *string `json:"audio_url,omitempty" jsonschema:"title=Audio URL,description=Optional recording of the reply; relative URLs are resolved against the endpoint"`
}

func toMessages(turns []conversation.Turn) ([]message, error) {
	messages := make([]message, 0, len(turns))
	if len(turns) == 0 {
		return messages, nil
	}
	if err := copier.Copy(&messages, turns); err != nil {
		return nil, fmt.Errorf("failed to convert turns: %w", err)
	}
	return messages, nil
}

// Schema describes the turn endpoint contract as JSON schema, request and
// response side by side.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	contract := struct {
		Request  *jsonschema.Schema `json:"request"`
		Response *jsonschema.Schema `json:"response"`
	}{
		Request:  reflector.Reflect(&requestBody{}),
		Response: reflector.Reflect(&responseBody{}),
	}

	schema, err := json.MarshalIndent(contract, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return schema, nil
}
