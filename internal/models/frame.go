package models

import "time"

// FrameType 帧类型判别器
type FrameType int

const (
	FrameUnknown FrameType = iota
	FrameLiveValue
	FrameSetResponse
	FrameDigitalInput
	FrameRegister
)

func (t FrameType) String() string {
	switch t {
	case FrameLiveValue:
		return "live_value"
	case FrameSetResponse:
		return "set_response"
	case FrameDigitalInput:
		return "digital_input"
	case FrameRegister:
		return "register"
	default:
		return "unknown"
	}
}

// Topic 解析后的主题
// 格式：HBEE/{account}/{channel}/{deviceId}[/suffix]
type Topic struct {
	Namespace string // "HBEE"
	Account   string // 账号（用户ID）
	Channel   string // 通道/型号（TC、HTC、temperature 等）
	DeviceID  string // 设备唯一标识（MAC/UUID）
	Suffix    string // "SER"（服务端方向）或 "DEV"（设备方向），可为空
}

// Frame 解码后的有类型帧（按帧类型取对应字段）
type Frame struct {
	Type  FrameType
	Topic Topic
	// 原始 payload（调试与实时推送用）
	Raw string

	// 设备携带的消息ID与序列号（可选；缺省为空/0）
	MessageID string
	Seq       int64

	// FrameLiveValue：实时读数
	Live *LiveValue
	// FrameSetResponse：设置应答参数（p01..p16）
	SetResponse map[string]string
	// FrameDigitalInput：数字输入
	Digital *DigitalInput
	// FrameRegister：设备注册请求
	Register *RegisterRequest

	// FrameUnknown：未识别的判别器（向前兼容，丢弃但不报错）
	UnknownDiscriminator string
}

// LiveValue 实时读数帧
type LiveValue struct {
	Name  string // 传感器通道名（ain 等）
	Type  string // 设备上报的类型字段
	Value string // 数值字符串或 "Error"
}

// DigitalInput 数字输入帧
type DigitalInput struct {
	Value string // "0" / "1"
}

// RegisterRequest 设备注册控制帧
type RegisterRequest struct {
	Account  string // 请求归属的账号
	Model    string // 设备型号（TC、HTC、WIO、EIO 等）
	DeviceID string // 设备 MAC/UUID
	Name     string // 显示名（可选；同账号重复注册时触发改名）
}

// SensorReading 已接受的传感器读数（持久化形态，落库后不可变）
type SensorReading struct {
	DeviceID   string
	Account    string
	SensorType string
	Value      string
	CapturedAt time.Time
}

// Envelope 协调窗口内的逐消息信封（不持久化）
type Envelope struct {
	MessageID    string // 去重用消息ID，物理消息唯一
	DeviceID     string
	SequenceHint int64 // 设备提供的序列号；0 表示未提供，使用接收时间
	Reading      SensorReading
	ReceivedAt   time.Time
}

// Seq 返回信封的有效序列：设备未提供时退化为接收时间毫秒
// （至少一次投递 + last-write-wins 下可接受的简化）
func (e *Envelope) Seq() int64 {
	if e.SequenceHint > 0 {
		return e.SequenceHint
	}
	return e.ReceivedAt.UnixMilli()
}

// AlarmDefaults 设备告警默认配置（注册时写入，全部关闭）
type AlarmDefaults struct {
	DeviceID string
	Account  string
	// 高温/低温/特定温度/DI/通信异常 开关
	HighEnabled     bool
	LowEnabled      bool
	SpecificEnabled bool
	DIEnabled       bool
	CommEnabled     bool
	// 阈值
	HighValue     float64
	LowValue      float64
	SpecificValue float64
	// 延迟与重发间隔（分钟）
	DelayMinutes  int
	RepeatMinutes int
}

// NewAlarmDefaults 注册时的初始告警配置（全部禁用）
func NewAlarmDefaults(account, deviceID string) AlarmDefaults {
	return AlarmDefaults{
		DeviceID:      deviceID,
		Account:       account,
		HighValue:     20,
		LowValue:      10,
		SpecificValue: 15,
	}
}

// Device 设备记录
type Device struct {
	DeviceID   string
	Account    string
	Model      string
	Name       string
	CreatedAt  time.Time
	LastSeenAt time.Time
}
