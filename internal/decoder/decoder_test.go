package decoder

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepine7/dashboard-sub002/internal/models"
)

func decodeReason(t *testing.T, raw string) Reason {
	t.Helper()
	_, err := Decode(raw)
	require.Error(t, err)
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	return decErr.Reason
}

// ============================================
// 实时读数帧
// ============================================

func TestDecode_LiveValue(t *testing.T) {
	raw := `HBEE/user1/TC/AA-BB-CC/DEV@{"actcode":"live","name":"ain","type":"1","value":"23.5"}`

	frame, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, models.FrameLiveValue, frame.Type)
	assert.Equal(t, "user1", frame.Topic.Account)
	assert.Equal(t, "TC", frame.Topic.Channel)
	assert.Equal(t, "AA-BB-CC", frame.Topic.DeviceID)
	assert.Equal(t, "DEV", frame.Topic.Suffix)
	require.NotNil(t, frame.Live)
	assert.Equal(t, "ain", frame.Live.Name)
	assert.Equal(t, "23.5", frame.Live.Value)
}

func TestDecode_LiveValue_NumericFields(t *testing.T) {
	// 固件会混发字符串和数值两种形态
	raw := `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":25}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameLiveValue, frame.Type)
	assert.Equal(t, "25", frame.Live.Value)
}

func TestDecode_LiveValue_ErrorReading(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":"Error"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameLiveValue, frame.Type)
	assert.Equal(t, "Error", frame.Live.Value)
}

func TestDecode_LiveValue_OutOfRange(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":"1001"}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))

	raw = `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":"-201"}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))
}

func TestDecode_LiveValue_MessageIDAndSeq(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":"20","msgid":"m-1","seq":42}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "m-1", frame.MessageID)
	assert.Equal(t, int64(42), frame.Seq)
}

// ============================================
// 数字输入帧
// ============================================

func TestDecode_DigitalInput(t *testing.T) {
	raw := `HBEE/user1/WIO/dev01@{"actcode":"live","name":"din","value":"1"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameDigitalInput, frame.Type)
	require.NotNil(t, frame.Digital)
	assert.Equal(t, "1", frame.Digital.Value)
}

func TestDecode_DigitalInput_InvalidValue(t *testing.T) {
	raw := `HBEE/user1/WIO/dev01@{"actcode":"live","name":"din","value":"2"}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))
}

// ============================================
// 设置应答帧
// ============================================

func TestDecode_SetResponse(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"setres","p01":"10","p02":"-5.5","p16":"100"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameSetResponse, frame.Type)
	assert.Equal(t, "10", frame.SetResponse["p01"])
	assert.Equal(t, "-5.5", frame.SetResponse["p02"])
	assert.Equal(t, "100", frame.SetResponse["p16"])
	_, ok := frame.SetResponse["p03"]
	assert.False(t, ok)
}

func TestDecode_SetResponse_ParamOutOfRange(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"setres","p01":"1001"}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))
}

func TestDecode_ActResponse_SameAsSetResponse(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"actres","p01":"1"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameSetResponse, frame.Type)
}

// ============================================
// 注册帧
// ============================================

func TestDecode_Register(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"reg","userid":"user1","model":"TC","mac":"AA-BB-CC"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameRegister, frame.Type)
	require.NotNil(t, frame.Register)
	assert.Equal(t, "user1", frame.Register.Account)
	assert.Equal(t, "TC", frame.Register.Model)
	assert.Equal(t, "AA-BB-CC", frame.Register.DeviceID)
	assert.Empty(t, frame.Register.Name)
}

func TestDecode_Register_WithDisplayName(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"reg","userid":"user1","model":"TC","mac":"dev01","sensorName":"warehouse-2"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameRegister, frame.Type)
	assert.Equal(t, "warehouse-2", frame.Register.Name)
}

func TestDecode_Register_AltCaseUserID(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"reg","userId":"user1","model":"HTC","mac":"dev01"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameRegister, frame.Type)
	assert.Equal(t, "user1", frame.Register.Account)
}

func TestDecode_Register_BareJSON(t *testing.T) {
	// 部分固件直接发 JSON，不带 topic 前缀
	raw := `{"actcode":"reg","userid":"user1","model":"TC","mac":"dev01"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameRegister, frame.Type)
	assert.Equal(t, "dev01", frame.Register.DeviceID)
}

func TestDecode_Register_MissingFields(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"reg","userid":"user1"}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))
}

// ============================================
// 传统裸数值
// ============================================

func TestDecode_LegacyScalar(t *testing.T) {
	raw := `HBEE/user1/temperature/dev01@23.5`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameLiveValue, frame.Type)
	assert.Equal(t, "temperature", frame.Live.Name)
	assert.Equal(t, "23.5", frame.Live.Value)
}

func TestDecode_LegacyScalar_NonTemperatureChannel(t *testing.T) {
	// 非温度通道的裸数值不认识，丢弃但不报错
	raw := `HBEE/user1/TC/dev01@23.5`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameUnknown, frame.Type)
}

// ============================================
// 拒绝路径
// ============================================

func TestDecode_Empty(t *testing.T) {
	assert.Equal(t, ReasonEmpty, decodeReason(t, ""))
	assert.Equal(t, ReasonEmpty, decodeReason(t, "   "))
}

func TestDecode_Oversized(t *testing.T) {
	raw := "HBEE/user1/TC/dev01@" + strings.Repeat("a", MaxMessageBytes)
	assert.Equal(t, ReasonOversized, decodeReason(t, raw))
}

func TestDecode_SecurityThreat(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"live","name":"ain","value":"1; DROP TABLE hnt_sensor_data--"}`
	assert.Equal(t, ReasonSecurityThreat, decodeReason(t, raw))

	raw = `HBEE/user1/TC/dev01@<script>alert(1)</script>`
	assert.Equal(t, ReasonSecurityThreat, decodeReason(t, raw))
}

func TestDecode_BadTopic(t *testing.T) {
	assert.Equal(t, ReasonBadTopic, decodeReason(t, `OTHER/user1/TC/dev01@{"actcode":"live","name":"ain","value":"1"}`))
	assert.Equal(t, ReasonBadTopic, decodeReason(t, `HBEE/user1@{"actcode":"live","name":"ain","value":"1"}`))
	assert.Equal(t, ReasonBadTopic, decodeReason(t, `not a frame at all`))
}

func TestDecode_MalformedJSON(t *testing.T) {
	raw := `HBEE/user1/TC/dev01@{"actcode":"live",}`
	assert.Equal(t, ReasonBadPayload, decodeReason(t, raw))
}

func TestDecode_UnknownActcode(t *testing.T) {
	// 未知判别器向前兼容：丢弃但不报错
	raw := `HBEE/user1/TC/dev01@{"actcode":"future","value":"1"}`

	frame, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, models.FrameUnknown, frame.Type)
	assert.Equal(t, "future", frame.UnknownDiscriminator)
}

func TestDecode_TooManyFields(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`HBEE/user1/TC/dev01@{"actcode":"live"`)
	for i := 0; i < MaxPayloadKeys+1; i++ {
		fmt.Fprintf(&sb, `,"k%02d":"1"`, i)
	}
	sb.WriteString(`}`)

	assert.Equal(t, ReasonBadPayload, decodeReason(t, sb.String()))
}
