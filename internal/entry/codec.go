package entry

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/juju/errors"
)

// ErrInvalidBoilerplate 表示 boilerplate 载荷不是值全为字符串的 JSON 对象。
const ErrInvalidBoilerplate = errors.ConstError("invalid boilerplate")

// Text 是文件内容。
type Text string

// Mapping 是 boilerplate 内容：客户端路径（可含 $VAR）到服务端文件名的映射。
type Mapping map[string]string

// Codec 在载荷与线上字节之间转换，Entry 状态机只依赖这一能力。
type Codec[P any] interface {
	Encode(P) ([]byte, error)
	Decode([]byte) (P, error)
	ContentType() string
}

// TextCodec 以 UTF-8 原样传输文件内容。
type TextCodec struct{}

func (TextCodec) Encode(p Text) ([]byte, error) {
	return []byte(p), nil
}

func (TextCodec) Decode(raw []byte) (Text, error) {
	if !utf8.Valid(raw) {
		return "", errors.NotValidf("file content (not UTF-8)")
	}
	return Text(raw), nil
}

func (TextCodec) ContentType() string {
	return "text/plain; charset=utf-8"
}

// MappingCodec 以 JSON 对象传输 boilerplate。
type MappingCodec struct{}

func (MappingCodec) Encode(p Mapping) ([]byte, error) {
	if p == nil {
		p = Mapping{}
	}
	raw, err := json.Marshal(map[string]string(p))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return raw, nil
}

func (MappingCodec) Decode(raw []byte) (Mapping, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil || generic == nil {
		return nil, errors.Annotate(ErrInvalidBoilerplate, "expected a JSON object")
	}
	files := make(Mapping, len(generic))
	for key, value := range generic {
		str, ok := value.(string)
		if !ok {
			return nil, errors.Annotatef(ErrInvalidBoilerplate, "value of %q is not a string", key)
		}
		files[key] = str
	}
	return files, nil
}

func (MappingCodec) ContentType() string {
	return "application/json"
}
