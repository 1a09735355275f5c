/*
Package store 提供会话的两层持久化。

  - RedisStore：热状态。会话以 session:{id} 哈希存储，
    sessions 集合维护全量索引，供轮询端点与进程重启后的状态回读。
  - Store：GORM 落库。终态会话及其成功 clip 归档为可查询的记录，
    支撑素材库（library）检索。

两层各管各的：Redis 记录随会话删除而删除，归档记录保留。
*/
package store
