package xcache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// isAbsent 报告 b 是否表示"未缓存"：nil、空白或 JSON null。
func isAbsent(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, jsonNull)
}

// checkStored 校验远端读取到的负载。
func checkStored(b []byte) error {
	if !json.Valid(b) {
		return ErrParseFailed
	}
	return nil
}

// encodeValue 将 v 编码为 JSON，缺省值返回 ErrNilValue。
func encodeValue[V any](v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("xcache: encode value: %w", err)
	}
	if isAbsent(data) {
		return nil, ErrNilValue
	}
	return data, nil
}

// decodeValue 将 JSON 解码为一个新的 V，每次调用都得到独立的副本。
func decodeValue[V any](data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return v, nil
}
