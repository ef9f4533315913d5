package decoder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thepine7/dashboard-sub002/internal/models"
)

// 判别器取值（设备协议固定）
const (
	actCodeLive   = "live"
	actCodeSetRes = "setres"
	actCodeActRes = "actres"
	actCodeReg    = "reg"

	nameDigitalInput = "din"

	// 传统温度通道：payload 为裸数值字符串
	legacyTemperatureChannel = "temperature"
)

// Decode 将原始线上消息解析为有类型帧（纯函数，不做任何持久化）
//
// 线上格式："{topic}@{payload}"，topic 为斜杠分隔路由，payload 为
// JSON 对象或传统裸数值。注册帧允许不带 topic 直接发 JSON。
// 未识别的判别器返回 FrameUnknown（协议向前兼容，丢弃不报错）。
func Decode(raw string) (models.Frame, error) {
	var frame models.Frame

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return frame, newDecodeError(ReasonEmpty, "")
	}
	if len(raw) > MaxMessageBytes {
		return frame, newDecodeError(ReasonOversized, fmt.Sprintf("%d bytes", len(raw)))
	}
	if HasSecurityThreat(raw) {
		return frame, newDecodeError(ReasonSecurityThreat, "")
	}

	// 注册帧可以不带 topic（设备固件直接发 JSON）
	if !strings.Contains(trimmed, "@") {
		if reg, ok := parseRegisterPayload(trimmed); ok {
			frame.Type = models.FrameRegister
			frame.Register = reg
			frame.Raw = trimmed
			return frame, nil
		}
		return frame, newDecodeError(ReasonBadTopic, "missing topic delimiter")
	}

	parts := strings.SplitN(trimmed, "@", 2)
	topicStr, payload := parts[0], parts[1]

	if !ValidTopic(topicStr) {
		return frame, newDecodeError(ReasonBadTopic, topicStr)
	}
	topic := parseTopic(topicStr)
	frame.Topic = topic
	frame.Raw = payload

	// 对象形 payload 走 JSON 分支，否则按传统裸数值处理
	if !isJSONObject(payload) {
		return decodeLegacyScalar(frame, topic, payload)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return frame, newDecodeError(ReasonBadPayload, "malformed json")
	}
	if len(fields) == 0 {
		return frame, newDecodeError(ReasonBadPayload, "empty object")
	}
	if len(fields) > MaxPayloadKeys {
		return frame, newDecodeError(ReasonBadPayload, "too many fields")
	}

	// 设备可选携带消息ID与序列号，供下游去重与排序
	if msgid, ok := stringField(fields, "msgid"); ok {
		frame.MessageID = msgid
	}
	if seq, ok := fields["seq"].(float64); ok && seq > 0 {
		frame.Seq = int64(seq)
	}

	actcode, ok := stringField(fields, "actcode")
	if !ok {
		return frame, newDecodeError(ReasonBadPayload, "missing actcode")
	}

	switch actcode {
	case actCodeReg:
		reg, ok := parseRegisterFields(fields)
		if !ok {
			return frame, newDecodeError(ReasonBadPayload, "register frame missing fields")
		}
		frame.Type = models.FrameRegister
		frame.Register = reg
		return frame, nil

	case actCodeLive:
		return decodeLive(frame, fields)

	case actCodeSetRes:
		return decodeSetResponse(frame, fields)

	case actCodeActRes:
		// 动作应答不携带读数，作为设置应答的一种转发
		return decodeSetResponse(frame, fields)

	default:
		// 协议向前兼容：未知 actcode 丢弃但不报错
		frame.Type = models.FrameUnknown
		frame.UnknownDiscriminator = actcode
		return frame, nil
	}
}

// decodeLive 解析实时读数帧；name=din 的帧单独归类为数字输入
func decodeLive(frame models.Frame, fields map[string]any) (models.Frame, error) {
	name, okName := stringField(fields, "name")
	value, okValue := stringField(fields, "value")
	if !okName || !okValue {
		return frame, newDecodeError(ReasonBadPayload, "live frame missing name/value")
	}

	if name == nameDigitalInput {
		if value != "0" && value != "1" {
			return frame, newDecodeError(ReasonBadPayload, "digital input value out of range")
		}
		frame.Type = models.FrameDigitalInput
		frame.Digital = &models.DigitalInput{Value: value}
		return frame, nil
	}

	if !ValidSensorValue(value) {
		return frame, newDecodeError(ReasonBadPayload, "sensor value out of range")
	}

	typ, _ := stringField(fields, "type")
	frame.Type = models.FrameLiveValue
	frame.Live = &models.LiveValue{Name: name, Type: typ, Value: value}
	return frame, nil
}

// decodeSetResponse 解析设置应答帧（p01..p16 参数）
func decodeSetResponse(frame models.Frame, fields map[string]any) (models.Frame, error) {
	params := make(map[string]string)
	for i := 1; i <= 16; i++ {
		key := fmt.Sprintf("p%02d", i)
		if v, ok := stringField(fields, key); ok {
			if !ValidParamValue(v) {
				return frame, newDecodeError(ReasonBadPayload, "parameter value out of range")
			}
			params[key] = v
		}
	}
	frame.Type = models.FrameSetResponse
	frame.SetResponse = params
	return frame, nil
}

// decodeLegacyScalar 传统温度通道：payload 是裸数值字符串
func decodeLegacyScalar(frame models.Frame, topic models.Topic, payload string) (models.Frame, error) {
	if topic.Channel != legacyTemperatureChannel {
		frame.Type = models.FrameUnknown
		frame.UnknownDiscriminator = "scalar:" + topic.Channel
		return frame, nil
	}
	value := strings.TrimSpace(payload)
	if !ValidSensorValue(value) {
		return frame, newDecodeError(ReasonBadPayload, "scalar value out of range")
	}
	frame.Type = models.FrameLiveValue
	frame.Live = &models.LiveValue{Name: legacyTemperatureChannel, Value: value}
	return frame, nil
}

func parseTopic(topic string) models.Topic {
	parts := strings.Split(topic, "/")
	t := models.Topic{
		Namespace: parts[0],
		Account:   parts[1],
		Channel:   parts[2],
		DeviceID:  parts[3],
	}
	if len(parts) > 4 {
		t.Suffix = parts[4]
	}
	return t
}

// parseRegisterPayload 尝试把整条消息当作注册 JSON 解析
func parseRegisterPayload(payload string) (*models.RegisterRequest, bool) {
	if !isJSONObject(payload) {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, false
	}
	if actcode, ok := stringField(fields, "actcode"); !ok || actcode != actCodeReg {
		return nil, false
	}
	return parseRegisterFields(fields)
}

// parseRegisterFields 提取注册帧必需字段（userid 与 userId 都接受）
func parseRegisterFields(fields map[string]any) (*models.RegisterRequest, bool) {
	account, ok := stringField(fields, "userid")
	if !ok {
		account, ok = stringField(fields, "userId")
	}
	model, okModel := stringField(fields, "model")
	mac, okMac := stringField(fields, "mac")
	if !ok || !okModel || !okMac {
		return nil, false
	}
	if !ValidAccountID(account) || !ValidDeviceID(mac) {
		return nil, false
	}
	// 显示名可选，sensorName 与 name 两种写法都有设备在发
	name, _ := stringField(fields, "sensorName")
	if name == "" {
		name, _ = stringField(fields, "name")
	}
	return &models.RegisterRequest{Account: account, Model: model, DeviceID: mac, Name: name}, true
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func stringField(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		// JSON 数值统一转字符串（设备固件会混发两种形态）
		return trimFloat(val), true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}
