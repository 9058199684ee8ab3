package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/roach88/cmdsync/internal/kv"
)

// Image is a record image in DynamoDB JSON, e.g. {"pk": {"S": "ORDER#a"}}.
type Image map[string]json.RawMessage

// wireValue is one DynamoDB JSON attribute value, as read.
type wireValue struct {
	S    *string                    `json:"S,omitempty"`
	N    *string                    `json:"N,omitempty"`
	B    *string                    `json:"B,omitempty"`
	BOOL *bool                      `json:"BOOL,omitempty"`
	NULL *bool                      `json:"NULL,omitempty"`
	M    map[string]json.RawMessage `json:"M,omitempty"`
	L    []json.RawMessage          `json:"L,omitempty"`
	SS   []string                   `json:"SS,omitempty"`
	NS   []string                   `json:"NS,omitempty"`
	BS   []string                   `json:"BS,omitempty"`
}

// DecodeImage converts an image to a plain item.
func DecodeImage(img Image) (kv.Item, error) {
	av, err := decodeMap(img)
	if err != nil {
		return nil, err
	}
	var item kv.Item
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal image: %w", err)
	}
	return item, nil
}

// EncodeImage converts a plain item to DynamoDB JSON.
func EncodeImage(item kv.Item) (Image, error) {
	av, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return nil, fmt.Errorf("marshal image: %w", err)
	}
	img := make(Image, len(av))
	for name, v := range av {
		raw, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		img[name] = raw
	}
	return img, nil
}

func decodeMap(m map[string]json.RawMessage) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(m))
	for name, raw := range m {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func decodeValue(raw json.RawMessage) (types.AttributeValue, error) {
	var w wireValue
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	switch {
	case w.S != nil:
		return &types.AttributeValueMemberS{Value: *w.S}, nil
	case w.N != nil:
		return &types.AttributeValueMemberN{Value: *w.N}, nil
	case w.BOOL != nil:
		return &types.AttributeValueMemberBOOL{Value: *w.BOOL}, nil
	case w.NULL != nil:
		return &types.AttributeValueMemberNULL{Value: *w.NULL}, nil
	case w.B != nil:
		b, err := base64.StdEncoding.DecodeString(*w.B)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberB{Value: b}, nil
	case w.M != nil:
		m, err := decodeMap(w.M)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case w.L != nil:
		l := make([]types.AttributeValue, len(w.L))
		for i, el := range w.L {
			v, err := decodeValue(el)
			if err != nil {
				return nil, err
			}
			l[i] = v
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	case w.SS != nil:
		return &types.AttributeValueMemberSS{Value: w.SS}, nil
	case w.NS != nil:
		return &types.AttributeValueMemberNS{Value: w.NS}, nil
	case w.BS != nil:
		bs := make([][]byte, len(w.BS))
		for i, s := range w.BS {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, err
			}
			bs[i] = b
		}
		return &types.AttributeValueMemberBS{Value: bs}, nil
	}
	return nil, fmt.Errorf("unsupported attribute value %s", raw)
}

func encodeValue(v types.AttributeValue) (json.RawMessage, error) {
	var tag string
	var val any
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		tag, val = "S", tv.Value
	case *types.AttributeValueMemberN:
		tag, val = "N", tv.Value
	case *types.AttributeValueMemberBOOL:
		tag, val = "BOOL", tv.Value
	case *types.AttributeValueMemberNULL:
		tag, val = "NULL", tv.Value
	case *types.AttributeValueMemberB:
		tag, val = "B", base64.StdEncoding.EncodeToString(tv.Value)
	case *types.AttributeValueMemberM:
		m := make(map[string]json.RawMessage, len(tv.Value))
		for name, el := range tv.Value {
			raw, err := encodeValue(el)
			if err != nil {
				return nil, err
			}
			m[name] = raw
		}
		tag, val = "M", m
	case *types.AttributeValueMemberL:
		l := make([]json.RawMessage, len(tv.Value))
		for i, el := range tv.Value {
			raw, err := encodeValue(el)
			if err != nil {
				return nil, err
			}
			l[i] = raw
		}
		tag, val = "L", l
	case *types.AttributeValueMemberSS:
		tag, val = "SS", tv.Value
	case *types.AttributeValueMemberNS:
		tag, val = "NS", tv.Value
	default:
		return nil, fmt.Errorf("unsupported attribute value %T", v)
	}
	return json.Marshal(map[string]any{tag: val})
}
