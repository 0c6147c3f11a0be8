package http

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/evnet-io/evnet/core/buffer"
)

// ReplyJSON marshals v and writes a complete application/json response.
func ReplyJSON(out *buffer.IOBuffer, status int, v any) error {
	body, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}
	return Reply(out, status, "Content-Type: application/json\r\n", body)
}

// UnmarshalBody decodes the message body into v.
func UnmarshalBody(msg *Message, v any) error {
	return sonnet.Unmarshal(msg.Body, v)
}
