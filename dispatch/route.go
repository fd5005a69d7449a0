package dispatch

import (
	"fmt"
	"reflect"
	"time"

	"evoq/aggregate"
)

// DefaultAggregateHandlerName 直接路由到聚合的命令默认使用的处理函数名
const DefaultAggregateHandlerName = "execute"

// Route 路由描述符
//
// 一条命令类型到聚合的静态绑定，在启动注册时创建一次，之后不可变。
// 各默认值（一致性、超时、存活策略、assigns）均可在分发时覆盖。
type Route struct {
	// Aggregate 目标聚合定义
	Aggregate *aggregate.Definition

	// HandlerName 在聚合定义 Handlers 中查找的处理函数名
	// 为空且未提供 Handler 时默认为 "execute"
	HandlerName string

	// Handler 显式处理函数，设置后绕过 HandlerName 查找
	// 用于将命令路由到聚合之外的独立处理器
	Handler aggregate.HandlerFunc

	// Identity 从命令值中提取聚合身份
	// 常见字段提取可使用 IdentityField 辅助函数
	Identity func(command any) string

	// IdentityPrefix 形成存储流标识时的前缀：streamID = prefix + identity
	// 同一聚合类型的所有路由必须使用一致的前缀
	IdentityPrefix string

	// Consistency 默认一致性（默认 Eventual）
	Consistency Consistency

	// Timeout 默认分发超时，0 表示使用调度器默认值，InfiniteTimeout 表示不设限
	Timeout time.Duration

	// Lifespan 实例空闲存活时长，0 表示永不因空闲终止
	Lifespan time.Duration

	// Middleware 路由级中间件，在全局中间件之后执行
	Middleware []IMiddleware

	// Assigns 默认 assigns，分发时按键合并覆盖
	Assigns map[string]any

	// handler 注册时解析出的最终处理函数
	handler aggregate.HandlerFunc
	// handlerName 注册时解析出的处理函数名（用于日志）
	handlerName string
	// commandType 注册时记录的命令类型名（用于日志与错误）
	commandType string
}

// aggregateBinding 聚合类型的身份绑定（用于管理操作）
type aggregateBinding struct {
	def      *aggregate.Definition
	prefix   string
	lifespan time.Duration
}

// Router 路由表
//
// 在启动阶段注册全部路由并做急切校验：重复的命令类型、无法解析的
// 处理函数、缺失的身份提取规则都是注册期错误，不会拖到分发期。
// 注册完成后路由表只读，分发期查找无需加锁。
type Router struct {
	routes     map[reflect.Type]*Route
	aggregates map[string]*aggregateBinding
}

// NewRouter 创建空路由表
func NewRouter() *Router {
	return &Router{
		routes:     make(map[reflect.Type]*Route),
		aggregates: make(map[string]*aggregateBinding),
	}
}

// Register 注册一条命令路由
//
// prototype 为命令的指针原型（例如 &OpenAccount{}），其动态类型作为路由键。
// 注册同一命令类型两次、处理函数无法解析、身份提取缺失均返回错误。
func (r *Router) Register(prototype any, route Route) error {
	if prototype == nil {
		return NewInvalidRouteError("", "command prototype cannot be nil")
	}
	cmdType := reflect.TypeOf(prototype)
	if cmdType.Kind() != reflect.Ptr {
		return NewInvalidRouteError(cmdType.String(), fmt.Sprintf("command prototype must be pointer type, got %s", cmdType.String()))
	}
	commandType := cmdType.Elem().Name()

	if _, exists := r.routes[cmdType]; exists {
		return NewDuplicateRouteError(commandType)
	}

	if err := route.Aggregate.Validate(); err != nil {
		return NewInvalidRouteError(commandType, err.Error())
	}
	if route.Identity == nil {
		return NewInvalidRouteError(commandType, "identity extraction rule is required")
	}

	// 解析处理函数：显式 Handler 优先，否则按名称在聚合定义中查找
	if route.Handler != nil {
		route.handler = route.Handler
		route.handlerName = route.HandlerName
		if route.handlerName == "" {
			route.handlerName = "handle"
		}
	} else {
		name := route.HandlerName
		if name == "" {
			name = DefaultAggregateHandlerName
		}
		handler, ok := route.Aggregate.Handler(name)
		if !ok {
			return NewInvalidRouteError(commandType,
				fmt.Sprintf("aggregate %s has no handler function named %q", route.Aggregate.Name, name))
		}
		route.handler = handler
		route.handlerName = name
	}
	route.commandType = commandType

	// 记录聚合身份绑定，供管理操作使用；前缀跨路由必须一致
	if binding, exists := r.aggregates[route.Aggregate.Name]; exists {
		if binding.prefix != route.IdentityPrefix {
			return NewInvalidRouteError(commandType,
				fmt.Sprintf("aggregate %s registered with conflicting identity prefixes %q and %q",
					route.Aggregate.Name, binding.prefix, route.IdentityPrefix))
		}
	} else {
		r.aggregates[route.Aggregate.Name] = &aggregateBinding{
			def:      route.Aggregate,
			prefix:   route.IdentityPrefix,
			lifespan: route.Lifespan,
		}
	}

	r.routes[cmdType] = &route
	return nil
}

// MustRegister 注册路由，失败时 panic（用于启动期的静态注册）
func (r *Router) MustRegister(prototype any, route Route) {
	if err := r.Register(prototype, route); err != nil {
		panic(err)
	}
}

// lookup 按命令动态类型查找路由
func (r *Router) lookup(command any) (*Route, bool) {
	route, ok := r.routes[reflect.TypeOf(command)]
	return route, ok
}

// binding 按聚合类型名查找身份绑定
func (r *Router) binding(aggregateType string) (*aggregateBinding, bool) {
	b, ok := r.aggregates[aggregateType]
	return b, ok
}

// IdentityField 返回按字段名提取聚合身份的提取函数
//
// 命令可以是结构体或结构体指针，目标字段类型必须为 string。
// 字段不存在或类型不符时返回空身份，由分发期校验报错。
func IdentityField(name string) func(command any) string {
	return func(command any) string {
		v := reflect.ValueOf(command)
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return ""
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return ""
		}
		field := v.FieldByName(name)
		if !field.IsValid() || field.Kind() != reflect.String {
			return ""
		}
		return field.String()
	}
}
