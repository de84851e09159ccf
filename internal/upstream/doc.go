// Package upstream 定义抓取上游内容的统一接口与来源注册表。
//
// 来源实现需要：
//  1. 在 internal/upstream/<source>/ 目录下实现 Fetcher；
//  2. 在 init() 中通过 MustRegister 注册 Source；
//  3. 在 main 中以空白导入激活该来源。
//
// worker 池只依赖 Fetcher 接口，不感知具体协议。
package upstream
