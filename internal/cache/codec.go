package cache

import (
	"github.com/goccy/go-json"

	apperrors "github.com/koopa0/system-design/redis-backed-cache/pkg/errors"
)

// Codec 負責值與文字格式之間的轉換
//
// 約束：對同一型別 T，Unmarshal(Marshal(v), *T) 必須還原出與 v 相等的值。
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec 以 JSON 儲存值
type JSONCodec struct{}

// Marshal 序列化
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal 反序列化，v 必須是指標
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Name 返回編碼名稱
func (JSONCodec) Name() string {
	return "json"
}

// encode 呼叫 codec 並把失敗轉成 ENCODE_FAILED
func encode(codec Codec, key string, value any) ([]byte, error) {
	data, err := codec.Marshal(value)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeEncode, "encode cache value").
			WithDetails("key=" + key + " codec=" + codec.Name())
	}
	return data, nil
}

// decode 呼叫 codec 並把失敗轉成 DECODE_FAILED
func decode(codec Codec, key string, data []byte, dst any) error {
	if err := codec.Unmarshal(data, dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDecode, "decode cache value").
			WithDetails("key=" + key + " codec=" + codec.Name())
	}
	return nil
}
