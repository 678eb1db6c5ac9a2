package command

import (
	"encoding/json"
	"errors"

	"github.com/wyfcoding/qaflow/xerrors"
)

// Reply 应答信封，Data 与 Error 二选一。
type Reply struct {
	CorrelationID string          `json:"correlationId"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *xerrors.Error  `json:"error,omitempty"`
}

// EncodeReply 根据处理结果生成应答信封。非 *xerrors.Error 的错误归一为 HandlerFailure。
func EncodeReply(correlationID string, data any, err error) ([]byte, error) {
	r := Reply{CorrelationID: correlationID}
	if err != nil {
		e, ok := xerrors.FromError(err)
		if !ok {
			e = xerrors.HandlerFailure("handler failed", err)
		}
		r.Error = e
		return json.Marshal(r)
	}

	raw, mErr := json.Marshal(data)
	if mErr != nil {
		return EncodeReply(correlationID, nil, xerrors.HandlerFailure("failed to encode result", mErr))
	}
	r.Data = raw
	return json.Marshal(r)
}

// DecodeReply 解析应答信封，错误对象标记为远端错误。
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.CorrelationID == "" {
		return nil, errors.New("reply without correlation id")
	}
	if r.Error != nil {
		r.Error.Remote = true
	}
	return &r, nil
}
