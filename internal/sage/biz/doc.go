// Package biz 实现检索与推荐引擎。
//
// 启动时 Initializer 加载或构建子块向量索引和父块文档库，并据此生成主题向量缓存；
// 之后这些结构只读。查询经 Retriever 召回父块上下文、Generator 生成答案，成功后由
// ProfileUpdater 以指数移动平均更新用户画像；Rank 根据画像向量给出分组去重的推荐。
package biz
