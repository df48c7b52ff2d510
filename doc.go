/*Package graphcorral submits graph computations to external execution
engines.

A computation is an optional vertex program, run by a bulk synchronous
parallel (BSP) engine, followed by map-reduce jobs that aggregate the
resulting graph into computation memory. graphcorral does not execute either
kind of job itself: it stages the archives workers need, decides which graph
view survives the computation, launches the jobs strictly in order, and hands
the caller a Future resolving to the result graph and a memory snapshot.

Jobs can run in-process through any Engine implementation, or in AWS Lambda,
where a deployed copy of the same binary hosts the engine. Graph locations
may be local paths or S3 URIs.
*/
package graphcorral
