// Package codec provides value encodings used by the cache store to estimate
// entry sizes and to persist entries in snapshots.
//
// Package codec 提供缓存存储用于估算条目大小和在快照中持久化条目的值编码。
package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/bytedance/sonic"
)

// Codec defines the interface for encoding and decoding cached values.
//
// Codec 定义了编码和解码缓存值的接口。
type Codec interface {
	// Marshal serializes a value into bytes.
	//
	// Marshal 将值序列化为字节。
	//
	// Parameters:
	//   - value: The value to serialize
	//
	// Returns:
	//   - []byte: The serialized bytes
	//   - error: An error if serialization fails
	Marshal(value any) ([]byte, error)

	// Unmarshal deserializes bytes into the value pointed to by value.
	//
	// Unmarshal 将字节反序列化到value指向的值。
	Unmarshal(data []byte, value any) error

	// Name returns the configuration name of this codec.
	// Name 返回编解码器的配置名称。
	Name() string
}

// JSONCodec implements Codec with sonic, in its encoding/json compatible mode.
//
// JSONCodec 使用sonic的encoding/json兼容模式实现Codec。
type JSONCodec struct {
	// Pretty selects indented output, used for human-readable snapshots.
	// Pretty 选择缩进输出，用于可读的快照。
	Pretty bool
}

// Marshal serializes a value into JSON bytes.
//
// Marshal 将值序列化为JSON字节。
func (c *JSONCodec) Marshal(value any) ([]byte, error) {
	if c.Pretty {
		return sonic.ConfigStd.MarshalIndent(value, "", "  ")
	}
	return sonic.ConfigStd.Marshal(value)
}

// Unmarshal deserializes JSON bytes into a value.
//
// Unmarshal 将JSON字节反序列化为值。
func (c *JSONCodec) Unmarshal(data []byte, value any) error {
	return sonic.ConfigStd.Unmarshal(data, value)
}

// Name returns "json".
func (c *JSONCodec) Name() string {
	return "json"
}

// NewJSONCodec creates a new JSONCodec.
//
// NewJSONCodec 创建一个新的JSONCodec。
func NewJSONCodec(pretty bool) *JSONCodec {
	return &JSONCodec{Pretty: pretty}
}

// GobCodec implements Codec using Gob serialization.
// Gob keeps Go-specific types such as time.Duration exact, at the cost of
// a larger encoding for small values.
//
// GobCodec 使用Gob序列化实现Codec。
type GobCodec struct{}

// Marshal serializes a value into Gob bytes.
func (c *GobCodec) Marshal(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes Gob bytes into a value.
func (c *GobCodec) Unmarshal(data []byte, value any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(value)
}

// Name returns "gob".
func (c *GobCodec) Name() string {
	return "gob"
}

// NewGobCodec creates a new GobCodec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// StringCodec stores string and []byte values as raw bytes.
//
// StringCodec 将string和[]byte值按原始字节存储。
type StringCodec struct{}

// Marshal accepts string and []byte values only.
func (c *StringCodec) Marshal(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case *string:
		return []byte(*v), nil
	default:
		return nil, fmt.Errorf("stringcodec: cannot marshal %T", value)
	}
}

// Unmarshal accepts *string and *[]byte targets only.
func (c *StringCodec) Unmarshal(data []byte, value any) error {
	switch v := value.(type) {
	case *string:
		*v = string(data)
	case *[]byte:
		*v = append((*v)[:0], data...)
	default:
		return fmt.Errorf("stringcodec: cannot unmarshal into %T", value)
	}
	return nil
}

// Name returns "string".
func (c *StringCodec) Name() string {
	return "string"
}

// NewStringCodec creates a new StringCodec.
func NewStringCodec() *StringCodec {
	return &StringCodec{}
}

// DefaultCodec returns the JSON codec.
//
// DefaultCodec 返回JSON编解码器。
func DefaultCodec() Codec {
	return NewJSONCodec(false)
}

// GetCodec returns the codec registered under name.
//
// GetCodec 返回指定名称的编解码器。
//
// Parameters:
//   - name: "json", "gob" or "string"; empty selects the default
//
// Returns:
//   - Codec: The codec
//   - error: An error if the name is unknown
func GetCodec(name string) (Codec, error) {
	switch name {
	case "json", "":
		return NewJSONCodec(false), nil
	case "gob":
		return NewGobCodec(), nil
	case "string":
		return NewStringCodec(), nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}
